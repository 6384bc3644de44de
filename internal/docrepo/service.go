// Package docrepo keeps every saved contract body as a commit in a
// per-contract git repository.
package docrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "contract.html"
	branch      = "main"
)

var (
	ErrNoDocument = errors.New("document not found")
	ErrInvalidID  = errors.New("invalid contract id")
	ErrUnchanged  = errors.New("document unchanged")
)

var contractIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Revision describes one saved version of a contract body.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Save commits html as the new head of the contract's repository, creating
// the repository on first save. Saving identical content returns the
// current head with ErrUnchanged.
func (s *Service) Save(contractID, html, author, message string) (Revision, error) {
	if !contractIDPattern.MatchString(contractID) {
		return Revision{}, ErrInvalidID
	}
	lock := s.contractLock(contractID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(contractID)
	if err != nil {
		return Revision{}, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readContent(head)
		if err != nil {
			return Revision{}, err
		}
		if current == html {
			return toRevision(head), ErrUnchanged
		}
	} else if !errors.Is(err, ErrNoDocument) {
		return Revision{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), []byte(html), 0o644); err != nil {
		return Revision{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return Revision{}, fmt.Errorf("git add content: %w", err)
	}
	if message == "" {
		message = "Update contract"
	}
	if author == "" {
		author = "clausemark"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.clausemark.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Revision{}, fmt.Errorf("commit content: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), nil
}

// Head returns the latest saved body and its revision.
func (s *Service) Head(contractID string) (string, Revision, error) {
	if !contractIDPattern.MatchString(contractID) {
		return "", Revision{}, ErrInvalidID
	}
	lock := s.contractLock(contractID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(contractID)
	if err != nil {
		return "", Revision{}, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return "", Revision{}, err
	}
	html, err := readContent(head)
	if err != nil {
		return "", Revision{}, err
	}
	return html, toRevision(head), nil
}

// At returns the body saved in a given revision. Abbreviated hashes are
// accepted.
func (s *Service) At(contractID, hash string) (string, error) {
	if !contractIDPattern.MatchString(contractID) {
		return "", ErrInvalidID
	}
	lock := s.contractLock(contractID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(contractID)
	if err != nil {
		return "", err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

// History lists revisions newest first. A limit of zero returns all.
func (s *Service) History(contractID string, limit int) ([]Revision, error) {
	if !contractIDPattern.MatchString(contractID) {
		return nil, ErrInvalidID
	}
	lock := s.contractLock(contractID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(contractID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(contractID string) string {
	return filepath.Join(s.baseDir, contractID)
}

func (s *Service) contractLock(contractID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[contractID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[contractID] = lock
	return lock
}

func (s *Service) open(contractID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(contractID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(contractID string) (*git.Repository, error) {
	repo, err := s.open(contractID)
	if !errors.Is(err, ErrNoDocument) {
		return repo, err
	}
	path := s.repoPath(contractID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readContent(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return content, nil
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
