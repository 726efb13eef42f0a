package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// defaultMaxBlockFileSize is the rotation threshold (spec.md 4.3: "e.g., 128
// MiB"). Grounded on the teacher ffldb driver's maxBlockFileSize field.
const defaultMaxBlockFileSize = 128 * 1024 * 1024

// blockFilePath mirrors the teacher's naming convention for rotated block
// files (blockFilePath(basePath, fileNum) in the ffldb driver).
func blockFilePath(basePath string, fileNum uint32) string {
	return filepath.Join(basePath, fmt.Sprintf("blk%05d.dat", fileNum))
}

// writeCursor tracks where the next append lands, the same role the
// teacher's writeCursor struct plays in its ffldb driver.
type writeCursor struct {
	curFileNum uint32
	curOffset  uint32
}

// blockFileStore appends length-prefixed block records to rotating flat
// files and hands back the (file, offset, length) triple the KV index keys
// off of (spec.md 4.3).
type blockFileStore struct {
	basePath         string
	maxBlockFileSize uint32
	writeCursor      writeCursor
	curFile          *os.File
}

func openBlockFileStore(basePath string, cursor writeCursor) (*blockFileStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, errors.Wrap(err, "creating block store directory")
	}
	bs := &blockFileStore{
		basePath:         basePath,
		maxBlockFileSize: defaultMaxBlockFileSize,
		writeCursor:      cursor,
	}
	f, err := os.OpenFile(blockFilePath(basePath, cursor.curFileNum), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "opening current block file")
	}
	bs.curFile = f
	return bs, nil
}

func (bs *blockFileStore) close() error {
	if bs.curFile == nil {
		return nil
	}
	return bs.curFile.Close()
}

// rotate closes the current file and opens the next one in sequence,
// resetting the offset (spec.md 4.3: "rotated at a configured size").
func (bs *blockFileStore) rotate() error {
	if err := bs.curFile.Close(); err != nil {
		return errors.Wrap(err, "closing full block file")
	}
	bs.writeCursor.curFileNum++
	bs.writeCursor.curOffset = 0
	f, err := os.OpenFile(blockFilePath(bs.basePath, bs.writeCursor.curFileNum), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrap(err, "opening next block file")
	}
	bs.curFile = f
	return nil
}

// writeBlock appends data, rotating first if it would not fit in the
// current file, and returns where it landed.
func (bs *blockFileStore) writeBlock(data []byte) (BlockLocation, error) {
	if uint32(len(data)) > bs.maxBlockFileSize {
		return BlockLocation{}, errors.New("block exceeds max block file size")
	}
	if bs.writeCursor.curOffset > 0 && bs.writeCursor.curOffset+uint32(len(data)) > bs.maxBlockFileSize {
		if err := bs.rotate(); err != nil {
			return BlockLocation{}, err
		}
	}
	n, err := bs.curFile.WriteAt(data, int64(bs.writeCursor.curOffset))
	if err != nil {
		return BlockLocation{}, errors.Wrap(err, "writing block data")
	}
	loc := BlockLocation{
		FileID: bs.writeCursor.curFileNum,
		Offset: bs.writeCursor.curOffset,
		Length: uint32(n),
	}
	bs.writeCursor.curOffset += uint32(n)
	return loc, nil
}

func (bs *blockFileStore) readBlock(loc BlockLocation) ([]byte, error) {
	path := blockFilePath(bs.basePath, loc.FileID)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening block file for read")
	}
	defer f.Close()
	buf := make([]byte, loc.Length)
	if _, err := f.ReadAt(buf, int64(loc.Offset)); err != nil {
		return nil, errors.Wrap(err, "reading block data")
	}
	return buf, nil
}

// handleRollback truncates the current file back to a known-good offset,
// the same recovery operation the teacher's ffldb driver performs when a
// write partially lands before a crash (spec.md 4.3 "Recovery").
func (bs *blockFileStore) handleRollback(fileNum, offset uint32) error {
	if fileNum != bs.writeCursor.curFileNum {
		if err := bs.curFile.Close(); err != nil {
			return err
		}
		f, err := os.OpenFile(blockFilePath(bs.basePath, fileNum), os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return err
		}
		bs.curFile = f
	}
	if err := bs.curFile.Truncate(int64(offset)); err != nil {
		return errors.Wrap(err, "truncating block file during rollback")
	}
	bs.writeCursor = writeCursor{curFileNum: fileNum, curOffset: offset}
	return nil
}

// deleteFile removes a rotated-away block file entirely. Nothing in the
// module calls it; block files are never pruned.
func (bs *blockFileStore) deleteFile(fileNum uint32) error {
	path := blockFilePath(bs.basePath, fileNum)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
