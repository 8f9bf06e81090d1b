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

package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/logrange/range/pkg/utils/encoding/xbinary"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/logrange/range/pkg/utils/fileutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newTmpDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "storeTest")
	if err != nil {
		t.Fatal("Could not create new temporary dir ", err)
	}
	return dir
}

func fileCfg(dir string) *Config {
	cfg := NewDefaultConfig()
	cfg.Location = dir
	cfg.CompactThreshold = 4
	return cfg
}

func openStore(t *testing.T, cfg *Config) Store {
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	return s
}

func putN(t *testing.T, s Store, seq string, n int) []Entry {
	ents := make([]Entry, n)
	for i := range ents {
		ents[i] = Entry{Target: fmt.Sprint("idx", i%2), Payload: []byte(fmt.Sprint("payload", i))}
	}
	if err := s.PutAll(seq, ents); err != nil {
		t.Fatal("must be no error, but err=", err)
	}
	return ents
}

func seqFileName(dir, seq string) string {
	return filepath.Join(dir, fileutil.EscapeToFileName(seq)+cSeqFileExt)
}

func testFifo(t *testing.T, s Store) {
	ents := putN(t, s, "seq1", 5)
	for i := 1; i < len(ents); i++ {
		if ents[i].Key <= ents[i-1].Key {
			t.Fatal("keys must grow, but ", ents)
		}
	}

	e := Entry{Target: "other", Payload: []byte("x")}
	assert.Nil(t, s.Put("seq2", &e))
	assert.True(t, e.Key > 0)

	res, err := s.Scan("seq1", 3)
	assert.Nil(t, err)
	assert.Equal(t, ents[:3], res)

	ok, err := s.Remove("seq1", ents[1].Key)
	assert.True(t, ok)
	assert.Nil(t, err)
	ok, _ = s.Remove("seq1", ents[1].Key)
	assert.False(t, ok, "second remove must report absent key")

	res, _ = s.Scan("seq1", 0)
	assert.Equal(t, []Entry{ents[0], ents[2], ents[3], ents[4]}, res)

	n, err := s.RemoveAll("seq1", []uint64{ents[0].Key, ents[0].Key, ents[2].Key, 12345})
	assert.Nil(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Size("seq1"))
	assert.Equal(t, 1, s.Size("seq2"))
	assert.Equal(t, 0, s.Size("absent"))
	assert.Equal(t, []string{"seq1", "seq2"}, s.Sequences())

	more := putN(t, s, "seq1", 1)
	res, _ = s.Scan("seq1", 10)
	assert.Equal(t, []Entry{ents[3], ents[4], more[0]}, res)
}

func TestInMemFifo(t *testing.T) {
	s := openStore(t, &Config{Type: TypeInMem, CompactThreshold: 1})
	defer s.Close()
	testFifo(t, s)
}

func TestFileFifo(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	defer s.Close()
	testFifo(t, s)
}

func TestFileReplay(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	ents := putN(t, s, "a/b", 6)
	s.RemoveAll("a/b", []uint64{ents[0].Key, ents[3].Key})
	assert.Nil(t, s.Close())
	assert.Equal(t, errors2.ClosedState, s.Close())

	s = openStore(t, fileCfg(dir))
	defer s.Close()
	assert.Equal(t, []string{"a/b"}, s.Sequences())
	res, _ := s.Scan("a/b", 0)
	assert.Equal(t, []Entry{ents[1], ents[2], ents[4], ents[5]}, res)

	more := putN(t, s, "a/b", 1)
	if more[0].Key <= ents[5].Key {
		t.Fatal("new key must be greater than replayed ones, key=", more[0].Key)
	}
}

func TestFileTornTail(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	ents := putN(t, s, "seq", 3)
	s.Close()

	fn := seqFileName(dir, "seq")
	fi, _ := os.Stat(fn)
	goodSize := fi.Size()

	// a partially written record
	f, _ := os.OpenFile(fn, os.O_WRONLY|os.O_APPEND, 0640)
	f.Write([]byte{0, 0, 0, 100, 1, 2, 3, 4, 1, 0, 0})
	f.Close()

	s = openStore(t, fileCfg(dir))
	res, _ := s.Scan("seq", 0)
	assert.Equal(t, ents, res)
	s.Close()

	fi, _ = os.Stat(fn)
	assert.Equal(t, goodSize, fi.Size(), "the torn tail must be truncated")
}

func TestFileTornLastRecordChecksum(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	ents := putN(t, s, "seq", 3)
	s.Close()

	fn := seqFileName(dir, "seq")
	data, _ := ioutil.ReadFile(fn)
	data[len(data)-1] ^= 0xFF
	ioutil.WriteFile(fn, data, 0640)

	s = openStore(t, fileCfg(dir))
	defer s.Close()
	res, _ := s.Scan("seq", 0)
	assert.Equal(t, ents[:2], res)
}

func TestFileCorruptedMiddle(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	putN(t, s, "seq", 3)
	s.Close()

	fn := seqFileName(dir, "seq")
	data, _ := ioutil.ReadFile(fn)
	data[recHeaderSize+2] ^= 0xFF
	ioutil.WriteFile(fn, data, 0640)

	_, err := NewStore(fileCfg(dir))
	if errors.Cause(err) != ErrCorrupted {
		t.Fatal("expecting ErrCorrupted, but err=", err)
	}

	// the failed open must release the lock
	if err := ioutil.WriteFile(fn, nil, 0640); err != nil {
		t.Fatal("could not reset file, err=", err)
	}
	s = openStore(t, fileCfg(dir))
	s.Close()
}

func TestFileCorruptedLength(t *testing.T) {
	for _, rec := range []int{0, 2} {
		dir := newTmpDir(t)

		s := openStore(t, fileCfg(dir))
		putN(t, s, "seq", 5)
		s.Close()

		fn := seqFileName(dir, "seq")
		data, _ := ioutil.ReadFile(fn)
		offs := 0
		for i := 0; i < rec; i++ {
			_, ln, _ := xbinary.UnmarshalUint32(data[offs:])
			offs += recHeaderSize + int(ln)
		}
		xbinary.MarshalUint32(0x7fffffff, data[offs:])
		ioutil.WriteFile(fn, data, 0640)

		_, err := NewStore(fileCfg(dir))
		if errors.Cause(err) != ErrCorrupted {
			t.Fatal("expecting ErrCorrupted for broken length of record ", rec, ", but err=", err)
		}
		fi, _ := os.Stat(fn)
		assert.Equal(t, int64(len(data)), fi.Size(), "the corrupted file must not be truncated")
		os.RemoveAll(dir)
	}
}

func TestFileLocked(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	_, err := NewStore(fileCfg(dir))
	assert.Equal(t, ErrLocked, err)
	s.Close()

	s = openStore(t, fileCfg(dir))
	s.Close()
}

func TestFileCompaction(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	ents := putN(t, s, "seq", 7)
	fn := seqFileName(dir, "seq")
	fi, _ := os.Stat(fn)
	fullSize := fi.Size()

	keys := make([]uint64, 0, 5)
	for _, e := range ents[:5] {
		keys = append(keys, e.Key)
	}
	n, _ := s.RemoveAll("seq", keys)
	assert.Equal(t, 5, n)

	fi, _ = os.Stat(fn)
	if fi.Size() >= fullSize {
		t.Fatal("the file must be compacted, size=", fi.Size(), ", before=", fullSize)
	}
	s.Close()

	s = openStore(t, fileCfg(dir))
	defer s.Close()
	res, _ := s.Scan("seq", 0)
	assert.Equal(t, ents[5:], res)
	more := putN(t, s, "seq", 1)
	assert.True(t, more[0].Key > ents[6].Key)
}

func TestFileEmptySequenceTruncated(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	s := openStore(t, fileCfg(dir))
	defer s.Close()
	ents := putN(t, s, "seq", 2)
	s.RemoveAll("seq", []uint64{ents[0].Key, ents[1].Key})

	fi, _ := os.Stat(seqFileName(dir, "seq"))
	assert.Equal(t, int64(0), fi.Size())
	assert.Equal(t, 0, len(s.Sequences()))
}

func TestFileRemovesTmp(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	tmp := seqFileName(dir, "seq") + cTmpFileExt
	ioutil.WriteFile(tmp, []byte("garbage"), 0640)
	s := openStore(t, fileCfg(dir))
	defer s.Close()
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Fatal("the unfinished compaction file must be removed")
	}
}

func TestMaxEntries(t *testing.T) {
	dir := newTmpDir(t)
	defer os.RemoveAll(dir)

	cfg := fileCfg(dir)
	cfg.MaxEntries = 3
	for _, s := range []Store{openStore(t, cfg), NewInMemStore(3)} {
		putN(t, s, "seq", 2)
		err := s.PutAll("seq", make([]Entry, 2))
		assert.Equal(t, ErrFull, err)
		assert.Equal(t, 2, s.Size("seq"))
		putN(t, s, "other", 3)
		s.Close()
	}
}

func TestClosedStore(t *testing.T) {
	s := NewInMemStore(0)
	s.Close()
	assert.Equal(t, errors2.ClosedState, s.Put("seq", &Entry{}))
	_, err := s.Scan("seq", 1)
	assert.Equal(t, errors2.ClosedState, err)
}

func TestConfigCheck(t *testing.T) {
	assert.Nil(t, NewDefaultConfig().Check())
	if _, err := NewStore(&Config{Type: TypeFile, CompactThreshold: 1}); err == nil {
		t.Fatal("must be an error for empty location")
	}
	if _, err := NewStore(&Config{Type: "mmap", CompactThreshold: 1}); err == nil {
		t.Fatal("must be an error for unknown type")
	}
}
