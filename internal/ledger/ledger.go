// Package ledger mirrors each mission's audit log into a git repository, one
// commit per entry, so that later edits to the authoritative log can be
// detected.
package ledger

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"missionsync/internal/mission"
)

const logFile = "log.jsonl"

// ErrDiverged reports a mirror whose recorded entries disagree with the log
// it is asked to extend.
var ErrDiverged = errors.New("audit mirror diverged from log")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// line is one mirrored entry.
type line struct {
	Seq    int              `json:"seq"`
	ID     string           `json:"id"`
	Digest string           `json:"digest"`
	Entry  mission.LogEntry `json:"entry"`
}

// Report is the outcome of comparing a log with its mirror.
type Report struct {
	Entries  int `json:"entries"`
	Mirrored int `json:"mirrored"`
	// Divergence is the index of the first entry whose digest differs, or -1.
	Divergence int    `json:"divergence"`
	Detail     string `json:"detail,omitempty"`
}

func (r Report) OK() bool {
	return r.Divergence < 0 && r.Entries == r.Mirrored
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Sync commits every entry past the mirrored prefix. It refuses to write when
// the mirrored prefix does not match entries.
func (s *Service) Sync(missionID string, entries []mission.LogEntry) ([]CommitInfo, error) {
	lock := s.missionLock(missionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(missionID)
	if err != nil {
		return nil, err
	}
	mirrored, contents, err := readMirrored(repo)
	if err != nil {
		return nil, err
	}
	report := compare(entries, mirrored)
	if report.Divergence >= 0 && report.Divergence < len(entries) {
		return nil, fmt.Errorf("%w: %s", ErrDiverged, report.Detail)
	}
	if len(mirrored) >= len(entries) {
		// An older snapshot of the log; the mirror is already ahead of it.
		return nil, nil
	}

	commits := make([]CommitInfo, 0, len(entries)-len(mirrored))
	for seq := len(mirrored); seq < len(entries); seq++ {
		var info CommitInfo
		info, contents, err = s.commitEntry(repo, contents, seq, entries[seq])
		if err != nil {
			return commits, err
		}
		commits = append(commits, info)
	}
	return commits, nil
}

// Verify compares entries with the mirror without writing.
func (s *Service) Verify(missionID string, entries []mission.LogEntry) (Report, error) {
	lock := s.missionLock(missionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(missionID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return compare(entries, nil), nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("open repo: %w", err)
	}
	mirrored, _, err := readMirrored(repo)
	if err != nil {
		return Report{}, err
	}
	return compare(entries, mirrored), nil
}

func (s *Service) History(missionID string, limit int) ([]CommitInfo, error) {
	lock := s.missionLock(missionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(missionID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
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

func compare(entries []mission.LogEntry, mirrored []line) Report {
	report := Report{Entries: len(entries), Mirrored: len(mirrored), Divergence: -1}
	for i, recorded := range mirrored {
		if i >= len(entries) {
			report.Divergence = i
			report.Detail = fmt.Sprintf("mirror has %d entries missing from the log, starting at %s", len(mirrored)-i, recorded.ID)
			return report
		}
		digest, err := Digest(entries[i])
		if err != nil || digest != recorded.Digest || entries[i].ID != recorded.ID {
			report.Divergence = i
			report.Detail = fmt.Sprintf("entry %d (%s) differs from the mirror", i, entries[i].ID)
			return report
		}
	}
	if len(entries) > len(mirrored) {
		report.Detail = fmt.Sprintf("%d entries not yet mirrored", len(entries)-len(mirrored))
	}
	return report
}

// Digest is the sha256 of an entry's JSON encoding.
func Digest(entry mission.LogEntry) (string, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Service) repoPath(missionID string) string {
	return filepath.Join(s.baseDir, missionID)
}

func (s *Service) missionLock(missionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[missionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[missionID] = lock
	return lock
}

func (s *Service) ensureRepo(missionID string) (*git.Repository, error) {
	path := s.repoPath(missionID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// commitEntry writes contents plus the new entry's line and commits it. The
// whole file is rewritten so a failed earlier attempt leaves no stray line.
func (s *Service) commitEntry(repo *git.Repository, contents []byte, seq int, entry mission.LogEntry) (CommitInfo, []byte, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, contents, fmt.Errorf("open worktree: %w", err)
	}
	digest, err := Digest(entry)
	if err != nil {
		return CommitInfo{}, contents, err
	}
	payload, err := json.Marshal(line{Seq: seq, ID: entry.ID, Digest: digest, Entry: entry})
	if err != nil {
		return CommitInfo{}, contents, fmt.Errorf("marshal line: %w", err)
	}
	next := make([]byte, 0, len(contents)+len(payload)+1)
	next = append(append(append(next, contents...), payload...), '\n')

	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), logFile), next, 0o644); err != nil {
		return CommitInfo{}, contents, fmt.Errorf("write %s: %w", logFile, err)
	}
	if _, err := worktree.Add(logFile); err != nil {
		return CommitInfo{}, contents, fmt.Errorf("git add %s: %w", logFile, err)
	}
	author := entry.UserName
	if author == "" {
		author = entry.UserID
	}
	hash, err := worktree.Commit(fmt.Sprintf("%s: %s", entry.EntryType, entry.Message), &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@missionsync.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return CommitInfo{}, contents, fmt.Errorf("commit entry %s: %w", entry.ID, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, next, fmt.Errorf("load commit: %w", err)
	}
	return toCommitInfo(commitObj), next, nil
}

// readMirrored decodes log.jsonl at HEAD. A repository without commits has
// mirrored nothing.
func readMirrored(repo *git.Repository) ([]line, []byte, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("load head commit: %w", err)
	}
	file, err := commitObj.File(logFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s from commit: %w", logFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", logFile, err)
	}

	items := make([]line, 0)
	scanner := bufio.NewScanner(strings.NewReader(contents))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item line
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, nil, fmt.Errorf("decode mirrored entry %d: %w", len(items), err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", logFile, err)
	}
	return items, []byte(contents), nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
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
