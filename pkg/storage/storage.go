// Package storage keeps captured pictures and recordings on disk, grouped
// into sessions. Each session directory carries a JSON index of its
// pictures; the root carries the session list.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"camhal/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("storage")
}

var (
	ErrExists   = errors.New("session already exists")
	ErrNotFound = errors.New("session not found")
)

type Storage struct {
	root string
	lock sync.Mutex
}

func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage path can not be empty")
	}
	s := &Storage{root: root}
	if err := mkdirAll(root); err != nil {
		return nil, err
	}
	if err := s.checkInitInfo(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Root() string {
	return s.root
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) ListSessions() ([]*Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.loadSessions()
}

// GetSession returns ErrNotFound when no session has that name.
func (s *Storage) GetSession(name string) (*Session, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Name == name {
			return p, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// NewSession creates the session directories and records the session.
// parameters is the flattened parameter string the session captures with.
func (s *Storage) NewSession(name, info string, interval time.Duration, parameters string) (*Session, error) {
	if name == "" || name != path.Base(name) {
		return nil, fmt.Errorf("invalid session name %q", name)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.loadSessions()
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		if p.Name == name {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
	}

	p := &Session{
		Name:       name,
		Info:       info,
		Interval:   interval.Milliseconds(),
		Parameters: parameters,
		CreatedAt:  time.Now(),
	}
	p.setRootDir(s.root)
	if err = p.init(); err != nil {
		return nil, err
	}
	list = append(list, p)
	logger.Infof("created session %s", name)

	return p, s.dumpSessions(list)
}

func (s *Storage) UpdateSession(session *Session) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.loadSessions()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(list, func(p *Session) bool { return p.Name == session.Name })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, session.Name)
	}
	list[i] = session

	return s.dumpSessions(list)
}

// DeleteSession removes the session and everything captured in it.
func (s *Storage) DeleteSession(name string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	list, err := s.loadSessions()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(list, func(p *Session) bool { return p.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err = list[i].Clear(); err != nil {
		return err
	}
	logger.Infof("deleted session %s", name)

	return s.dumpSessions(slices.Delete(list, i, i+1))
}

func (s *Storage) loadSessions() ([]*Session, error) {
	data, err := os.ReadFile(s.getSessionInfoPath())
	if err != nil {
		return nil, err
	}
	var list []*Session
	if err = json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshal session info err: %w", err)
	}
	for _, p := range list {
		p.setRootDir(s.root)
	}

	return list, nil
}

func (s *Storage) dumpSessions(list []*Session) error {
	f, err := os.Create(s.getSessionInfoPath())
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(list)
}

func (s *Storage) getSessionInfoPath() string {
	return path.Join(s.root, DefaultInfoFile)
}

func (s *Storage) checkInitInfo() error {
	_, err := os.Stat(s.getSessionInfoPath())
	if os.IsNotExist(err) {
		return s.dumpSessions(make([]*Session, 0))
	}

	return err
}

func mkdirAll(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, DefaultDirPerm); err != nil {
			return err
		}
	}

	return nil
}
