// internal/queue/store.go
package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store persists the tasks of one named queue in Badger.
//
// Key layout (all under "queue:<name>:"):
//
//	task:<id>                               -> JSON Task
//	ready:<prio>:<runAt>:<seq>:<id>         -> empty, waiting and delayed tasks
//	active:<deadline>:<id>                  -> empty, claimed tasks
//	dedup:<key>                             -> task id
//
// Timestamps are zero-padded UnixNano so lexical order matches time order.
type Store struct {
	db   *badger.DB
	name string
	seq  *badger.Sequence
}

const claimRetries = 8

func NewStore(db *badger.DB, name string) (*Store, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	seq, err := db.GetSequence([]byte("queue:"+name+":seq"), 100)
	if err != nil {
		return nil, fmt.Errorf("open sequence for %s: %w", name, err)
	}
	return &Store{db: db, name: name, seq: seq}, nil
}

// Close returns unused sequence leases. The badger DB is owned by the caller.
func (s *Store) Close() error {
	return s.seq.Release()
}

func (s *Store) prefix(parts ...string) []byte {
	return []byte("queue:" + s.name + ":" + strings.Join(parts, ":"))
}

func (s *Store) taskKey(id string) []byte { return s.prefix("task", id) }

func (s *Store) dedupKey(key string) []byte { return s.prefix("dedup", key) }

func (s *Store) readyKey(t *Task) []byte {
	return s.prefix("ready",
		strconv.Itoa(int(t.Priority)),
		fmt.Sprintf("%020d", t.RunAt.UnixNano()),
		fmt.Sprintf("%020d", t.Seq),
		t.ID)
}

func (s *Store) activeKey(t *Task) []byte {
	return s.prefix("active", fmt.Sprintf("%020d", t.Deadline.UnixNano()), t.ID)
}

// idFromIndexKey returns the trailing id segment of an index key.
func idFromIndexKey(key []byte) string {
	i := bytes.LastIndexByte(key, ':')
	if i < 0 {
		return ""
	}
	return string(key[i+1:])
}

func getTask(txn *badger.Txn, key []byte) (*Task, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var t Task
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	}); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) putTask(txn *badger.Txn, t *Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return txn.Set(s.taskKey(t.ID), data)
}

func deleteIgnoreMissing(txn *badger.Txn, key []byte) error {
	if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on optimistic conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < claimRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Put stores a new task. When t.DedupKey names a live task, that task's id is
// returned and nothing is written.
func (s *Store) Put(t *Task) (string, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	t.Seq = seq

	var id string
	err = s.update(func(txn *badger.Txn) error {
		id = t.ID
		if t.DedupKey != "" {
			item, err := txn.Get(s.dedupKey(t.DedupKey))
			switch {
			case err == nil:
				existing, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if _, err := txn.Get(s.taskKey(string(existing))); err == nil {
					id = string(existing)
					return nil
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			if err := txn.Set(s.dedupKey(t.DedupKey), []byte(t.ID)); err != nil {
				return err
			}
		}
		if err := s.putTask(txn, t); err != nil {
			return err
		}
		return txn.Set(s.readyKey(t), nil)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Claim moves the best ready task to active. Priority tiers are tried in order;
// within a tier the earliest runAt, then enqueue sequence, wins. The whole move
// happens in one transaction so a task is handed to at most one claimant.
func (s *Store) Claim(now time.Time, visibility time.Duration) (*Task, error) {
	var claimed *Task
	err := s.update(func(txn *badger.Txn) error {
		claimed = nil
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for p := PriorityHigh; p <= PriorityLow; p++ {
			prefix := s.prefix("ready", strconv.Itoa(int(p)), "")
			var head *Task
			var headKey []byte
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				t, err := getTask(txn, s.taskKey(idFromIndexKey(key)))
				if errors.Is(err, badger.ErrKeyNotFound) {
					// orphan index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				if err != nil {
					return err
				}
				head, headKey = t, key
				break
			}
			if head == nil || head.RunAt.After(now) {
				continue
			}

			if err := txn.Delete(headKey); err != nil {
				return err
			}
			head.Active = true
			head.Attempt++
			head.Deadline = now.Add(visibility)
			if err := s.putTask(txn, head); err != nil {
				return err
			}
			if err := txn.Set(s.activeKey(head), nil); err != nil {
				return err
			}
			claimed = head
			return nil
		}
		return ErrNoTask
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Requeue puts an active task back into the ready index at runAt. It is a
// no-op when the task was removed while running.
func (s *Store) Requeue(t *Task, runAt time.Time, lastErr string) error {
	return s.requeue(t, runAt, lastErr, false)
}

// Release hands a claim back without counting the attempt, for tasks that
// were interrupted rather than failed.
func (s *Store) Release(t *Task, runAt time.Time) error {
	return s.requeue(t, runAt, "interrupted", true)
}

func (s *Store) requeue(t *Task, runAt time.Time, lastErr string, refund bool) error {
	return s.update(func(txn *badger.Txn) error {
		cur, err := getTask(txn, s.taskKey(t.ID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Active {
			if err := deleteIgnoreMissing(txn, s.activeKey(cur)); err != nil {
				return err
			}
		}
		if refund && cur.Active && cur.Attempt == t.Attempt && cur.Attempt > 0 {
			cur.Attempt--
		}
		cur.Active = false
		cur.Deadline = time.Time{}
		cur.RunAt = runAt
		cur.LastError = lastErr
		if err := s.putTask(txn, cur); err != nil {
			return err
		}
		return txn.Set(s.readyKey(cur), nil)
	})
}

// Extend moves the visibility deadline of the claim identified by id and
// attempt. It reports false when that claim is no longer held.
func (s *Store) Extend(id string, attempt int, deadline time.Time) (bool, error) {
	held := false
	err := s.update(func(txn *badger.Txn) error {
		held = false
		cur, err := getTask(txn, s.taskKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !cur.Active || cur.Attempt != attempt {
			return nil
		}
		if err := deleteIgnoreMissing(txn, s.activeKey(cur)); err != nil {
			return err
		}
		cur.Deadline = deadline
		if err := s.putTask(txn, cur); err != nil {
			return err
		}
		held = true
		return txn.Set(s.activeKey(cur), nil)
	})
	return held, err
}

// Reschedule starts a repeating task's next cycle with a fresh attempt budget.
func (s *Store) Reschedule(t *Task, runAt time.Time) error {
	return s.update(func(txn *badger.Txn) error {
		cur, err := getTask(txn, s.taskKey(t.ID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Active {
			if err := deleteIgnoreMissing(txn, s.activeKey(cur)); err != nil {
				return err
			}
		}
		cur.Active = false
		cur.Deadline = time.Time{}
		cur.Attempt = 0
		cur.LastError = ""
		cur.RunAt = runAt
		if err := s.putTask(txn, cur); err != nil {
			return err
		}
		return txn.Set(s.readyKey(cur), nil)
	})
}

// Delete removes a task and every index entry pointing at it.
func (s *Store) Delete(id string) error {
	return s.update(func(txn *badger.Txn) error {
		cur, err := getTask(txn, s.taskKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Active {
			if err := deleteIgnoreMissing(txn, s.activeKey(cur)); err != nil {
				return err
			}
		} else if err := deleteIgnoreMissing(txn, s.readyKey(cur)); err != nil {
			return err
		}
		if cur.DedupKey != "" {
			if err := deleteIgnoreMissing(txn, s.dedupKey(cur.DedupKey)); err != nil {
				return err
			}
		}
		return txn.Delete(s.taskKey(id))
	})
}

func (s *Store) Get(id string) (*Task, error) {
	var t *Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = getTask(txn, s.taskKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

// Scan calls fn for every stored task. Iteration stops early when fn returns false.
func (s *Store) Scan(fn func(*Task) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := s.prefix("task", "")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			if !fn(&t) {
				return nil
			}
		}
		return nil
	})
}

// Expired returns active tasks whose visibility deadline has passed.
func (s *Store) Expired(now time.Time) ([]*Task, error) {
	var out []*Task
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := s.prefix("active", "")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		limit := []byte(fmt.Sprintf("%020d", now.UnixNano()))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := it.Item().Key()[len(prefix):]
			if len(rest) < 20 || bytes.Compare(rest[:20], limit) > 0 {
				break
			}
			t, err := getTask(txn, s.taskKey(idFromIndexKey(it.Item().Key())))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	return out, err
}
