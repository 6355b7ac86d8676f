// Package worktree is the Worktree Manager: it maps a feature's target
// branch to an isolated working directory without duplicating the
// repository, and builds GitHub PR URLs/invocations once a branch is ready
// for review.
package worktree

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/automaker/automaker/internal/errs"
	"github.com/automaker/automaker/internal/gitutil"
	"github.com/automaker/automaker/internal/model"
)

// Manager owns worktree creation/removal for a set of known project roots.
// One mutex per project guards mutation; reads are lock-free.
type Manager struct {
	mu       sync.Mutex
	projects map[string]*sync.Mutex
	// allowedRoots seeds the path allow-list: every resolved worktree path
	// must live under one of these, or under its sibling .worktrees/<name>
	// directory.
	allowedRoots map[string]bool
}

func NewManager(knownProjectRoots ...string) *Manager {
	m := &Manager{
		projects:     map[string]*sync.Mutex{},
		allowedRoots: map[string]bool{},
	}
	for _, r := range knownProjectRoots {
		m.AllowRoot(r)
	}
	return m
}

func (m *Manager) AllowRoot(projectPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		abs = projectPath
	}
	m.allowedRoots[abs] = true
}

func (m *Manager) lockFor(projectPath string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.projects[projectPath]
	if !ok {
		l = &sync.Mutex{}
		m.projects[projectPath] = l
	}
	return l
}

var safeBranchRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeBranchDir(branch string) string {
	return safeBranchRe.ReplaceAllString(branch, "-")
}

// siblingWorktreesRoot returns <project>/../.worktrees/<project-name>.
func siblingWorktreesRoot(projectPath string) string {
	parent := filepath.Dir(projectPath)
	name := filepath.Base(projectPath)
	return filepath.Join(parent, ".worktrees", name)
}

func (m *Manager) validatePath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &errs.SecurityError{Reason: "cannot resolve path: " + err.Error()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for root := range m.allowedRoots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return nil
		}
		// Sibling .worktrees directory is allowed relative to any known root.
		sibling := siblingWorktreesRoot(root)
		if abs == sibling || strings.HasPrefix(abs, sibling+string(filepath.Separator)) {
			return nil
		}
	}
	return &errs.SecurityError{Reason: fmt.Sprintf("path %q escapes the project allow-list", abs)}
}

// EnsureResult is the outcome of Ensure.
type EnsureResult struct {
	Path  string
	IsNew bool
}

// Ensure idempotently resolves branchName to a working directory. main/master
// resolve to the project path itself.
func (m *Manager) Ensure(projectPath, branchName string) (EnsureResult, error) {
	m.AllowRoot(projectPath)
	if model.IsMainBranch(branchName) {
		return EnsureResult{Path: projectPath, IsNew: false}, nil
	}
	if !gitutil.ValidRefName(branchName) {
		return EnsureResult{}, &errs.SecurityError{Reason: fmt.Sprintf("invalid branch name %q", branchName)}
	}

	lock := m.lockFor(projectPath)
	lock.Lock()
	defer lock.Unlock()

	entries, err := gitutil.ListWorktrees(projectPath)
	if err != nil {
		return EnsureResult{}, classifyGitErr("worktree list", err)
	}
	for _, e := range entries {
		if e.Branch == branchName {
			return EnsureResult{Path: e.Path, IsNew: false}, nil
		}
	}

	target := filepath.Join(siblingWorktreesRoot(projectPath), safeBranchDir(branchName))
	if err := m.validatePath(target); err != nil {
		return EnsureResult{}, err
	}
	if err := gitutil.AddWorktree(projectPath, target, branchName); err != nil {
		return EnsureResult{}, classifyGitErr("worktree add", err)
	}
	return EnsureResult{Path: target, IsNew: true}, nil
}

// List enriches `git worktree list --porcelain` with commitsAhead and dirty
// status for every registered worktree of projectPath.
func (m *Manager) List(projectPath string) ([]model.Worktree, error) {
	entries, err := gitutil.ListWorktrees(projectPath)
	if err != nil {
		return nil, classifyGitErr("worktree list", err)
	}
	out := make([]model.Worktree, 0, len(entries))
	for _, e := range entries {
		if e.Branch == "" {
			continue
		}
		w := model.Worktree{BranchName: e.Branch, Path: e.Path}
		if !model.IsMainBranch(e.Branch) {
			if ahead, err := gitutil.CommitsAhead(projectPath, "HEAD", e.Branch); err == nil {
				w.CommitsAhead = ahead
			}
		}
		if clean, err := gitutil.IsClean(e.Path); err == nil {
			w.Dirty = !clean
		}
		out = append(out, w)
	}
	return out, nil
}

// Remove deletes a worktree. The caller is responsible for refusing this when
// the branch is referenced by a running feature unless force is set; this
// function performs the filesystem/git side only.
func (m *Manager) Remove(projectPath, branchName string, force bool) error {
	lock := m.lockFor(projectPath)
	lock.Lock()
	defer lock.Unlock()

	entries, err := gitutil.ListWorktrees(projectPath)
	if err != nil {
		return classifyGitErr("worktree list", err)
	}
	for _, e := range entries {
		if e.Branch == branchName {
			if err := m.validatePath(e.Path); err != nil {
				return err
			}
			if err := gitutil.RemoveWorktree(projectPath, e.Path); err != nil {
				return classifyGitErr("worktree remove", err)
			}
			return nil
		}
	}
	return &errs.NotFound{Kind: "worktree", ID: branchName}
}

// Commit stages all changes and commits; a clean tree is a no-op that
// returns the current HEAD SHA.
func (m *Manager) Commit(worktreePath, message string) (string, error) {
	if err := m.validatePath(worktreePath); err != nil {
		return "", err
	}
	clean, err := gitutil.IsClean(worktreePath)
	if err != nil {
		return "", classifyGitErr("status", err)
	}
	if clean {
		return gitutil.HeadSHA(worktreePath)
	}
	sha, err := gitutil.Commit(worktreePath, message)
	if err != nil {
		return "", classifyGitErr("commit", err)
	}
	return sha, nil
}

// MergeToMain checks out main in the project path and merges branchName into
// it, reporting conflicts as a structured GitError.
func (m *Manager) MergeToMain(projectPath, branchName string) error {
	if err := gitutil.CheckoutBranch(projectPath, "main"); err != nil {
		if err2 := gitutil.CheckoutBranch(projectPath, "master"); err2 != nil {
			return classifyGitErr("checkout main", err)
		}
	}
	if err := gitutil.Merge(projectPath, branchName, "merge "+branchName); err != nil {
		_ = gitutil.MergeAbort(projectPath)
		return &errs.GitError{Kind: errs.GitConflict, Args: []string{"merge", branchName}, Cause: err}
	}
	return nil
}

func classifyGitErr(op string, err error) error {
	var stderr string
	if ce, ok := err.(*gitutil.CommandError); ok {
		stderr = ce.Stderr
	}
	return &errs.GitError{Kind: errs.ClassifyGitStderr(stderr), Args: []string{op}, Stderr: stderr, Cause: err}
}

// PROptions configures CreatePR.
type PROptions struct {
	Title string
	Body  string
	Base  string
	Draft bool
}

// PRResult is what CreatePR produced: either a gh-created PR URL or a
// synthesized browser compare URL.
type PRResult struct {
	URL      string
	ViaGH    bool
	ForkTopo bool
}

// CreatePR pushes the branch, then either invokes `gh pr create` (if present
// and authenticated) or synthesizes a GitHub compare URL from the
// origin/upstream remotes, detecting fork topology when both exist.
func CreatePR(worktreePath, branchName string, opts PROptions) (PRResult, error) {
	if err := gitutil.PushBranch(worktreePath, "origin", branchName); err != nil {
		return PRResult{}, classifyGitErr("push", err)
	}

	remotes, err := gitutil.Remotes(worktreePath)
	if err != nil {
		return PRResult{}, classifyGitErr("remote", err)
	}
	var origin, upstream string
	for _, r := range remotes {
		switch r.Name {
		case "origin":
			origin = r.URL
		case "upstream":
			upstream = r.URL
		}
	}
	forkTopo := origin != "" && upstream != ""

	if ghAvailable() {
		args := []string{"pr", "create", "--head", branchName}
		if opts.Base != "" {
			args = append(args, "--base", opts.Base)
		}
		if opts.Title != "" {
			args = append(args, "--title", opts.Title)
		}
		if opts.Body != "" {
			args = append(args, "--body", opts.Body)
		}
		if opts.Draft {
			args = append(args, "--draft")
		}
		cmd := exec.Command("gh", args...)
		cmd.Dir = worktreePath
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			return PRResult{URL: strings.TrimSpace(out.String()), ViaGH: true, ForkTopo: forkTopo}, nil
		}
	}

	owner, repo := ownerRepoFromRemote(origin)
	if owner == "" {
		owner, repo = ownerRepoFromRemote(upstream)
	}
	base := opts.Base
	if base == "" {
		base = "main"
	}
	url := fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s?expand=1", owner, repo, base, branchName)
	if opts.Title != "" {
		url += "&title=" + escapeQuery(opts.Title)
	}
	if opts.Body != "" {
		url += "&body=" + escapeQuery(opts.Body)
	}
	return PRResult{URL: url, ViaGH: false, ForkTopo: forkTopo}, nil
}

func ghAvailable() bool {
	if _, err := exec.LookPath("gh"); err != nil {
		return false
	}
	cmd := exec.Command("gh", "auth", "status")
	return cmd.Run() == nil
}

var remoteURLRe = regexp.MustCompile(`[:/]([^/:]+)/([^/]+?)(\.git)?$`)

func ownerRepoFromRemote(url string) (owner, repo string) {
	m := remoteURLRe.FindStringSubmatch(url)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

func escapeQuery(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ' ':
			b.WriteString("%20")
		case r == '&' || r == '=' || r == '#' || r == '%':
			b.WriteString(fmt.Sprintf("%%%02X", r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
