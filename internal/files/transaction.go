package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Transaction stages several file replacements and commits them as renames
// in the order they were staged. Before committing, each existing target is
// copied to <target>.bak so a failed commit can be rolled back.
type Transaction struct {
	staged []stagedFile
	done   bool
}

type stagedFile struct {
	target string
	tmp    string
	backup string
	hadOld bool
	moved  bool
}

// Stage writes data next to target. Nothing visible changes until Commit.
func (t *Transaction) Stage(target string, data []byte) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	tmp := target + ".tmp"
	if err := WriteAtomic(tmp, data); err != nil {
		return fmt.Errorf("stage %s: %w", target, err)
	}
	t.staged = append(t.staged, stagedFile{target: target, tmp: tmp, backup: target + ".bak"})
	return nil
}

// Commit backs up the current targets and renames every staged file into
// place. On failure the already-moved targets are restored from backup.
func (t *Transaction) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	for i := range t.staged {
		s := &t.staged[i]
		if _, err := os.Stat(s.target); err == nil {
			if err := CopyFile(s.target, s.backup); err != nil {
				t.discard()
				return fmt.Errorf("backup %s: %w", s.target, err)
			}
			s.hadOld = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			t.discard()
			return fmt.Errorf("stat %s: %w", s.target, err)
		}
	}

	for i := range t.staged {
		s := &t.staged[i]
		if err := os.Rename(s.tmp, s.target); err != nil {
			rollbackErr := t.rollback()
			t.discard()
			if rollbackErr != nil {
				return fmt.Errorf("commit %s: %w (rollback failed: %v)", s.target, err, rollbackErr)
			}
			return fmt.Errorf("commit %s: %w", s.target, err)
		}
		s.moved = true
	}

	for _, s := range t.staged {
		Remove(s.backup)
	}
	return nil
}

// Abort removes staged temp files without touching targets.
func (t *Transaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.discard()
}

func (t *Transaction) rollback() error {
	var errs []error
	for _, s := range t.staged {
		if !s.moved {
			continue
		}
		if s.hadOld {
			if err := os.Rename(s.backup, s.target); err != nil {
				errs = append(errs, err)
			}
		} else if err := Remove(s.target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Transaction) discard() {
	for _, s := range t.staged {
		Remove(s.tmp)
		if !s.moved {
			Remove(s.backup)
		}
	}
}
