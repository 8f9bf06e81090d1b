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

package pool

import (
	"fmt"
)

type (
	// ResizePolicy is consulted by Pool when no idle ItemSource is
	// available. The Pool calls it holding its lock, so implementations
	// must be fast and must not call back into the Pool.
	ResizePolicy interface {
		// Increase returns the number of ItemSources to allocate for a pool
		// which currently has allocated ones. 0 means the pool must not grow.
		Increase(allocated int) int
	}

	boundedPolicy struct {
		factor  float64
		maxSize int
	}

	unlimitedPolicy struct {
		factor float64
	}
)

// NewResizePolicy creates the ResizePolicy described by cfg
func NewResizePolicy(cfg *ResizeConfig) (ResizePolicy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("invalid config; nil")
	}
	switch cfg.Type {
	case ResizeBounded:
		if cfg.MaxSize <= 0 {
			return nil, fmt.Errorf("invalid config; MaxSize=%d, must be > 0", cfg.MaxSize)
		}
		return &boundedPolicy{factor: cfg.Factor, maxSize: cfg.MaxSize}, nil
	case ResizeUnlimited:
		if cfg.Factor <= 0 {
			return nil, fmt.Errorf("invalid config; Factor=%v, must be > 0", cfg.Factor)
		}
		return &unlimitedPolicy{factor: cfg.Factor}, nil
	}
	return nil, fmt.Errorf("unknown resize policy type=%v", cfg.Type)
}

func growStep(allocated int, factor float64) int {
	n := int(float64(allocated) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

//===================== boundedPolicy =====================

func (bp *boundedPolicy) Increase(allocated int) int {
	n := growStep(allocated, bp.factor)
	if allocated+n > bp.maxSize {
		n = bp.maxSize - allocated
	}
	if n < 0 {
		return 0
	}
	return n
}

func (bp *boundedPolicy) String() string {
	return fmt.Sprintf("{bounded: factor=%v, maxSize=%d}", bp.factor, bp.maxSize)
}

//===================== unlimitedPolicy =====================

func (up *unlimitedPolicy) Increase(allocated int) int {
	return growStep(allocated, up.factor)
}

func (up *unlimitedPolicy) String() string {
	return fmt.Sprintf("{unlimited: factor=%v}", up.factor)
}
