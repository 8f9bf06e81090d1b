// Copyright 2018-2019 The logrange Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package failover

type (
	// KeySequenceSelector chooses the store sequence for newly failed
	// items. Different shipper instances sharing a store directory
	// layout use different sequences, so their keys never mix.
	KeySequenceSelector interface {
		Sequence() string
	}

	singleSelector string
)

// NewSingleSelector returns the selector which always returns seq
func NewSingleSelector(seq string) KeySequenceSelector {
	if seq == "" {
		seq = DefaultKeySequence
	}
	return singleSelector(seq)
}

func (ss singleSelector) Sequence() string {
	return string(ss)
}
