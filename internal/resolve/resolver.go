// Package resolve maps extracted mention tokens and title fragments onto
// existing records. Every lookup is read-only and returns nil (never an
// error) for "not found"; lookups are composed first-match-wins.
package resolve

import (
	"strings"

	"github.com/matsurihq/taskbot/internal/config"
	"github.com/matsurihq/taskbot/internal/store"
)

// Resolver performs fuzzy entity resolution against the store.
type Resolver struct {
	store    *store.Store
	keywords *config.Keywords
}

// NewResolver creates a resolver over the given store.
func NewResolver(s *store.Store, keywords *config.Keywords) *Resolver {
	if keywords == nil {
		keywords = config.DefaultKeywords()
	}
	return &Resolver{store: s, keywords: keywords}
}

// FindMentionedUser resolves mention tokens against the workspace member
// directory. For each token in order it tries a display-name substring match
// first, then a substring match on the local part of the email address; the
// first hit across tokens wins. Returns nil when nothing matches.
func (r *Resolver) FindMentionedUser(workspaceID string, mentions []string) (*store.Member, error) {
	if len(mentions) == 0 {
		return nil, nil
	}

	members, err := r.store.MembersByWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	for _, mention := range mentions {
		name := r.stripMentionToken(mention)
		if name == "" {
			continue
		}

		for _, m := range members {
			if strings.Contains(m.DisplayName, name) {
				return m, nil
			}
		}
		for _, m := range members {
			if local := emailLocalPart(m.Email); local != "" && strings.Contains(local, name) {
				return m, nil
			}
		}
	}

	return nil, nil
}

// stripMentionToken removes the mention marker and any trailing honorific
// suffix so "@田中さん" matches a member named "田中太郎".
func (r *Resolver) stripMentionToken(mention string) string {
	name := strings.TrimPrefix(mention, "@")
	for _, h := range r.keywords.Honorifics {
		if strings.HasSuffix(name, h) && len(name) > len(h) {
			name = strings.TrimSuffix(name, h)
			break
		}
	}
	return strings.TrimSpace(name)
}

// FindTaskByTitle fuzzy-matches a title fragment against task titles within
// the workspace. Matching is case- and space-insensitive substring matching
// in either direction; among matches, the most recently created task wins.
// Returns nil when nothing matches or the fragment is empty.
func (r *Resolver) FindTaskByTitle(workspaceID, fragment string) (*store.Task, error) {
	needle := foldTitle(fragment)
	if needle == "" {
		return nil, nil
	}

	tasks, err := r.store.TasksByWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}

	// Tasks come back most recent first, so the first match is the winner.
	for _, t := range tasks {
		title := foldTitle(t.Title)
		if strings.Contains(title, needle) || strings.Contains(needle, title) {
			return t, nil
		}
	}

	return nil, nil
}

// FindRecentUserTask returns the sender's most recently created task that is
// not completed, or nil. Used as the completion-intent fallback when no title
// fragment resolves.
func (r *Resolver) FindRecentUserTask(workspaceID, userID string) (*store.Task, error) {
	if userID == "" {
		return nil, nil
	}
	return r.store.RecentOpenTaskFor(workspaceID, userID)
}

// foldTitle lowercases a title and drops all whitespace, including the
// full-width space.
func foldTitle(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '　' {
			return -1
		}
		return r
	}, s)
}

func emailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return ""
}
