package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"litreview/internal/model"

	"github.com/dgraph-io/badger/v4"
)

const (
	articlePrefix  = "article:"
	sourcePrefix   = "source:"
	fullTextPrefix = "fulltext:"
	articleSeqKey  = "seq:article"
)

func articleKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", articlePrefix, id))
}

func fullTextKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", fullTextPrefix, id))
}

// sourceIndexPrefix ends with a separator so "123" never matches "1234".
func sourceIndexPrefix(source, sourceID string) []byte {
	return []byte(sourcePrefix + source + ":" + sourceID + ":")
}

func sourceIndexKey(source, sourceID string, id int64) []byte {
	return append(sourceIndexPrefix(source, sourceID), []byte(fmt.Sprintf("%020d", id))...)
}

// FindBySourceID looks the article up through the (source, source id)
// index. More than one hit is reported as ErrMultipleArticles.
func (s *HybridStore) FindBySourceID(ctx context.Context, source, sourceID string) (*model.Article, error) {
	if s.db == nil {
		return nil, ErrNoDisk
	}
	var article *model.Article
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := indexedIDs(txn, sourceIndexPrefix(source, sourceID))
		if err != nil {
			return err
		}
		switch len(ids) {
		case 0:
			return nil
		case 1:
			article, err = loadArticle(txn, ids[0])
			return err
		default:
			return fmt.Errorf("%w: %s %s (articles %v)", ErrMultipleArticles, source, sourceID, ids)
		}
	})
	if err != nil {
		return nil, err
	}
	return article, nil
}

// Create assigns an id (unless one is set) and stores a new article.
func (s *HybridStore) Create(ctx context.Context, article *model.Article) error {
	if s.db == nil {
		return ErrNoDisk
	}
	if article.ID == 0 {
		id, err := s.nextID()
		if err != nil {
			return err
		}
		article.ID = id
	}
	data, err := json.Marshal(article)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		ids, err := indexedIDs(txn, sourceIndexPrefix(article.Source, article.SourceID))
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			return fmt.Errorf("%w: %s %s", ErrDuplicateSourceID, article.Source, article.SourceID)
		}
		if err := txn.Set(articleKey(article.ID), data); err != nil {
			return err
		}
		return txn.Set(sourceIndexKey(article.Source, article.SourceID, article.ID), nil)
	})
}

// Save overwrites a stored article and keeps the source index in step.
func (s *HybridStore) Save(ctx context.Context, article *model.Article) error {
	if s.db == nil {
		return ErrNoDisk
	}
	if article.ID == 0 {
		return errors.New("cannot save article without id")
	}
	data, err := json.Marshal(article)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := loadArticle(txn, article.ID)
		if err != nil {
			return err
		}
		if old.Source != article.Source || old.SourceID != article.SourceID {
			if err := txn.Delete(sourceIndexKey(old.Source, old.SourceID, old.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(articleKey(article.ID), data); err != nil {
			return err
		}
		return txn.Set(sourceIndexKey(article.Source, article.SourceID, article.ID), nil)
	})
}

func (s *HybridStore) Get(ctx context.Context, id int64) (*model.Article, error) {
	if s.db == nil {
		return nil, ErrNoDisk
	}
	var article *model.Article
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		article, err = loadArticle(txn, id)
		return err
	})
	return article, err
}

// StaleSourceIDs lists the source ids of articles from source whose data
// has never been checked, or was last checked before the cutoff.
func (s *HybridStore) StaleSourceIDs(ctx context.Context, source string, before time.Time) ([]string, error) {
	if s.db == nil {
		return nil, ErrNoDisk
	}
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(articlePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a model.Article
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			if a.Source != source {
				continue
			}
			if a.DataChecked == nil || a.DataChecked.Before(before) {
				ids = append(ids, a.SourceID)
			}
		}
		return nil
	})
	return ids, err
}

func (s *HybridStore) SaveFullText(ctx context.Context, articleID int64, content string) error {
	if s.db == nil {
		return ErrNoDisk
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullTextKey(articleID), []byte(content))
	})
}

func (s *HybridStore) GetFullText(ctx context.Context, articleID int64) (string, error) {
	if s.db == nil {
		return "", ErrNoDisk
	}
	var content string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fullTextKey(articleID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			content = string(val)
			return nil
		})
	})
	return content, err
}

func (s *HybridStore) nextID() (int64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if s.seq == nil {
		seq, err := s.db.GetSequence([]byte(articleSeqKey), 100)
		if err != nil {
			return 0, fmt.Errorf("article sequence: %w", err)
		}
		s.seq = seq
	}
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at zero; article ids start at one.
	return int64(n) + 1, nil
}

func loadArticle(txn *badger.Txn, id int64) (*model.Article, error) {
	item, err := txn.Get(articleKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a model.Article
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func indexedIDs(txn *badger.Txn, prefix []byte) ([]int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Rewind(); it.Valid(); it.Next() {
		key := string(it.Item().Key())
		id, err := strconv.ParseInt(strings.TrimPrefix(key, string(prefix)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt index key %q: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
