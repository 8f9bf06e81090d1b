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
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/jrivets/log4g"
	"github.com/logrange/range/pkg/utils/bytes"
	errors2 "github.com/logrange/range/pkg/utils/errors"
	"github.com/logrange/range/pkg/utils/fileutil"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
)

const (
	cSeqFileExt   = ".fq"
	cTmpFileExt   = ".tmp"
	cLockFileName = ".lock"
)

type (
	// fileStore keeps every key sequence in its own append-only file in
	// the Location directory. The whole sequence is indexed in memory, the
	// file is replayed into the index when the store is opened.
	fileStore struct {
		cfg    *Config
		logger log4g.Logger
		fl     *flock.Flock

		lock   sync.Mutex
		seqs   map[string]*seqFile
		buf    bytes.Writer
		closed bool
	}

	seqFile struct {
		seq  string
		fn   string
		f    *os.File
		q    *queue
		size int64
		dead int
	}
)

// Open opens the file store in cfg.Location. The directory is locked, so
// only one process could use it. All sequence files are replayed. A file
// with an incomplete last record is truncated, a file with a broken
// record in the middle makes Open fail with ErrCorrupted.
func Open(cfg *Config) (Store, error) {
	if err := cfg.Check(); err != nil {
		return nil, errors.Wrapf(err, "invalid config")
	}

	fs := new(fileStore)
	fs.cfg = deepcopy.Copy(cfg).(*Config)
	fs.logger = log4g.GetLogger("store").WithId("[" + cfg.Location + "]").(log4g.Logger)
	fs.seqs = make(map[string]*seqFile)
	fs.buf.Init(4096, nil)

	if err := fileutil.EnsureDirExists(cfg.Location); err != nil {
		return nil, errors.Wrapf(err, "could not create dir %s", cfg.Location)
	}

	fs.fl = flock.New(filepath.Join(cfg.Location, cLockFileName))
	if ok, err := fs.fl.TryLock(); !ok || err != nil {
		if err != nil {
			return nil, errors.Wrapf(err, "could not lock %s", cfg.Location)
		}
		return nil, ErrLocked
	}

	if err := fs.load(); err != nil {
		fs.closeFiles()
		fs.fl.Unlock()
		return nil, err
	}
	return fs, nil
}

func (fs *fileStore) Put(seq string, e *Entry) error {
	ents := []Entry{*e}
	if err := fs.PutAll(seq, ents); err != nil {
		return err
	}
	e.Key = ents[0].Key
	return nil
}

func (fs *fileStore) PutAll(seq string, ents []Entry) error {
	if len(ents) == 0 {
		return nil
	}

	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.closed {
		return errors2.ClosedState
	}

	sf, err := fs.getSeqFile(seq)
	if err != nil {
		return err
	}
	if fs.cfg.MaxEntries > 0 && sf.q.size()+len(ents) > fs.cfg.MaxEntries {
		return ErrFull
	}

	fs.buf.Reset()
	key := sf.q.lastKey
	for i := range ents {
		key++
		ents[i].Key = key
		encodeRecord(&fs.buf, record{op: opPut, e: ents[i]})
	}
	if err := sf.write(fs.buf.Buf()); err != nil {
		return err
	}

	for _, e := range ents {
		e.Payload = bytes.BytesCopy(e.Payload)
		sf.q.add(e)
	}
	return nil
}

func (fs *fileStore) Scan(seq string, limit int) ([]Entry, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.closed {
		return nil, errors2.ClosedState
	}

	if sf, ok := fs.seqs[seq]; ok {
		return sf.q.scan(limit), nil
	}
	return nil, nil
}

func (fs *fileStore) Remove(seq string, key uint64) (bool, error) {
	n, err := fs.RemoveAll(seq, []uint64{key})
	return n == 1, err
}

func (fs *fileStore) RemoveAll(seq string, keys []uint64) (int, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.closed {
		return 0, errors2.ClosedState
	}

	sf, ok := fs.seqs[seq]
	if !ok {
		return 0, nil
	}

	fs.buf.Reset()
	rmv := make([]uint64, 0, len(keys))
	seen := make(map[uint64]bool, len(keys))
	for _, k := range keys {
		if _, ok := sf.q.live[k]; !ok || seen[k] {
			continue
		}
		seen[k] = true
		rmv = append(rmv, k)
		encodeRecord(&fs.buf, record{op: opDel, e: Entry{Key: k}})
	}
	if len(rmv) == 0 {
		return 0, nil
	}

	if err := sf.write(fs.buf.Buf()); err != nil {
		return 0, err
	}
	for _, k := range rmv {
		sf.q.del(k)
	}
	sf.dead += len(rmv)
	fs.compactIfNeeded(sf)
	return len(rmv), nil
}

func (fs *fileStore) Size(seq string) int {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if sf, ok := fs.seqs[seq]; ok {
		return sf.q.size()
	}
	return 0
}

func (fs *fileStore) Sequences() []string {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	res := make([]string, 0, len(fs.seqs))
	for s, sf := range fs.seqs {
		if sf.q.size() > 0 {
			res = append(res, s)
		}
	}
	sort.Strings(res)
	return res
}

func (fs *fileStore) Close() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if fs.closed {
		return errors2.ClosedState
	}
	fs.closed = true
	err := fs.closeFiles()
	fs.fl.Unlock()
	fs.buf.Close()
	fs.logger.Info("Closed.")
	return err
}

func (fs *fileStore) String() string {
	return "fileStore{" + fs.cfg.String() + "}"
}

// load replays all sequence files found in the store directory
func (fs *fileStore) load() error {
	fis, err := ioutil.ReadDir(fs.cfg.Location)
	if err != nil {
		return errors.Wrapf(err, "could not read dir %s", fs.cfg.Location)
	}

	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		name := fi.Name()
		fn := filepath.Join(fs.cfg.Location, name)
		if strings.HasSuffix(name, cTmpFileExt) {
			fs.logger.Warn("Removing unfinished compaction file ", fn)
			os.Remove(fn)
			continue
		}
		if filepath.Ext(name) != cSeqFileExt {
			continue
		}

		seq := fileutil.UnescapeFileName(strings.TrimSuffix(name, cSeqFileExt))
		sf, err := openSeqFile(seq, fn, fs.logger)
		if err != nil {
			return err
		}
		fs.seqs[seq] = sf
		fs.logger.Info("Replayed sequence \"", seq, "\": ", sf.q.size(), " entries, file size ",
			humanize.Bytes(uint64(sf.size)))
	}
	return nil
}

// getSeqFile returns the sequence file, creating it if needed. Must be
// called under the lock.
func (fs *fileStore) getSeqFile(seq string) (*seqFile, error) {
	if sf, ok := fs.seqs[seq]; ok {
		return sf, nil
	}
	fn := filepath.Join(fs.cfg.Location, fileutil.EscapeToFileName(seq)+cSeqFileExt)
	sf, err := openSeqFile(seq, fn, fs.logger)
	if err != nil {
		return nil, err
	}
	fs.seqs[seq] = sf
	return sf, nil
}

// compactIfNeeded rewrites the sequence file, if it has too many removed
// entries. Must be called under the lock.
func (fs *fileStore) compactIfNeeded(sf *seqFile) {
	if sf.q.size() == 0 {
		if err := sf.truncate(0); err != nil {
			fs.logger.Warn("Could not truncate empty sequence file ", sf.fn, ", err=", err)
		}
		sf.dead = 0
		return
	}

	if sf.dead < fs.cfg.CompactThreshold || sf.dead <= sf.q.size() {
		return
	}

	fs.buf.Reset()
	for _, e := range sf.q.scan(0) {
		encodeRecord(&fs.buf, record{op: opPut, e: e})
	}
	if err := sf.rewrite(fs.buf.Buf()); err != nil {
		fs.logger.Warn("Could not compact ", sf.fn, ", err=", err)
		return
	}
	fs.logger.Info("Compacted ", sf.fn, ", removed ", sf.dead, " entries, new size ",
		humanize.Bytes(uint64(sf.size)))
	sf.dead = 0
}

func (fs *fileStore) closeFiles() error {
	var err error
	for _, sf := range fs.seqs {
		if err1 := sf.f.Close(); err1 != nil && err == nil {
			err = err1
		}
	}
	return err
}

//===================== seqFile =====================

func openSeqFile(seq, fn string, logger log4g.Logger) (*seqFile, error) {
	sf := &seqFile{seq: seq, fn: fn, q: newQueue()}
	if err := sf.replay(logger); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fn, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open file %s", fn)
	}
	sf.f = f
	return sf, nil
}

// replay reads the file content and rebuilds the sequence index
func (sf *seqFile) replay(logger log4g.Logger) error {
	data, err := ioutil.ReadFile(sf.fn)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "could not read file %s", sf.fn)
	}

	offs := 0
	for offs < len(data) {
		r, n, err := decodeRecord(data[offs:])
		if err == errCrc && offs+n == len(data) {
			err = errTorn
		}
		if err == errTorn && hasRecordAfter(data, offs) {
			// a partial write is always the last one, the length is broken
			err = ErrCorrupted
		}
		if err == errTorn {
			logger.Warn("Incomplete record at offset ", offs, " of ", sf.fn, ", truncating ",
				len(data)-offs, " bytes")
			if err := os.Truncate(sf.fn, int64(offs)); err != nil {
				return errors.Wrapf(err, "could not truncate %s", sf.fn)
			}
			break
		}
		if err != nil {
			return errors.Wrapf(ErrCorrupted, "broken record at offset %d of %s", offs, sf.fn)
		}

		if r.op == opPut {
			sf.q.add(r.e)
		} else if sf.q.del(r.e.Key) {
			sf.dead++
		}
		offs += n
	}
	sf.size = int64(offs)
	return nil
}

// hasRecordAfter returns whether a valid record starts somewhere after
// offs in data.
func hasRecordAfter(data []byte, offs int) bool {
	for p := offs + 1; p+recHeaderSize < len(data); p++ {
		if _, _, err := decodeRecord(data[p:]); err == nil {
			return true
		}
	}
	return false
}

func (sf *seqFile) write(buf []byte) error {
	if _, err := sf.f.Write(buf); err != nil {
		sf.f.Truncate(sf.size)
		return errors.Wrapf(err, "could not write to %s", sf.fn)
	}
	if err := sf.f.Sync(); err != nil {
		sf.f.Truncate(sf.size)
		return errors.Wrapf(err, "could not sync %s", sf.fn)
	}
	sf.size += int64(len(buf))
	return nil
}

func (sf *seqFile) truncate(sz int64) error {
	if err := sf.f.Truncate(sz); err != nil {
		return err
	}
	sf.size = sz
	return sf.f.Sync()
}

// rewrite replaces the file content with buf. The new content is written
// to a temporary file first, which is renamed to the sequence file then.
func (sf *seqFile) rewrite(buf []byte) error {
	tmp := sf.fn + cTmpFileExt
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", tmp)
	}
	if _, err = tf.Write(buf); err == nil {
		err = tf.Sync()
	}
	tf.Close()
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "could not write %s", tmp)
	}

	if err := os.Rename(tmp, sf.fn); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "could not rename file %s to %s", tmp, sf.fn)
	}

	f, err := os.OpenFile(sf.fn, os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return errors.Wrapf(err, "could not reopen %s", sf.fn)
	}
	sf.f.Close()
	sf.f = f
	sf.size = int64(len(buf))
	return nil
}
