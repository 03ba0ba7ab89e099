package source

import (
	"context"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/teranos/subman/errors"
)

// RefLister lists the refs a git remote advertises, like git ls-remote
type RefLister interface {
	ListRefs(ctx context.Context, url string) ([]*plumbing.Reference, error)
}

// RemoteLister lists refs with go-git over an in-memory remote; nothing is cloned
type RemoteLister struct {
	Auth transport.AuthMethod
}

func (l RemoteLister) ListRefs(ctx context.Context, url string) ([]*plumbing.Reference, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	return remote.ListContext(ctx, &git.ListOptions{
		Auth:          l.Auth,
		PeelingOption: git.AppendPeeled,
	})
}

// classifyGitError maps transport errors onto resolution failures
func classifyGitError(d Descriptor, err error) error {
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound), errors.Is(err, transport.ErrEmptyRemoteRepository):
		return failure(NotFound, d, d.url, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return failure(AuthFailure, d, d.url, err)
	case errors.Is(err, transport.ErrInvalidAuthMethod):
		return failure(AuthFailure, d, d.url, err)
	default:
		return failure(NetworkFailure, d, d.url, err)
	}
}

func (r *Resolver) resolveGit(ctx context.Context, d Descriptor) (ResolvedDependency, error) {
	var refs []*plumbing.Reference
	err := r.retry(ctx, d, func(ctx context.Context) error {
		var err error
		refs, err = r.refs.ListRefs(ctx, d.url)
		if err != nil {
			return classifyGitError(d, err)
		}
		return nil
	})
	if err != nil {
		return ResolvedDependency{}, err
	}

	hash, matched, err := matchRef(refs, d.ref)
	if err != nil {
		return ResolvedDependency{}, failure(NotFound, d, d.url, err)
	}
	return ResolvedDependency{
		desc:    d,
		name:    d.crate,
		version: hash,
		proof: Proof{
			Source:    d.url,
			Matched:   matched,
			CheckedAt: r.now(),
		},
	}, nil
}

// matchRef finds ref among the advertised refs and returns the commit it
// pins to. Empty ref means HEAD. Tags resolve to the peeled commit.
// A full hash is accepted as is; an abbreviated one must prefix exactly
// one advertised tip.
func matchRef(refs []*plumbing.Reference, ref string) (string, string, error) {
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, r := range refs {
		byName[r.Name()] = r
	}
	hashOf := func(name plumbing.ReferenceName) (string, bool) {
		for i := 0; i < 5; i++ {
			r, ok := byName[name]
			if !ok {
				return "", false
			}
			if r.Type() == plumbing.HashReference {
				return r.Hash().String(), true
			}
			name = r.Target()
		}
		return "", false
	}

	if ref == "" || ref == "HEAD" {
		if h, ok := hashOf(plumbing.HEAD); ok {
			return h, "HEAD", nil
		}
		return "", "", errors.New("remote does not advertise HEAD")
	}

	if strings.HasPrefix(ref, "refs/") {
		name := plumbing.ReferenceName(ref)
		if peeled, ok := hashOf(name + "^{}"); ok {
			return peeled, ref, nil
		}
		if h, ok := hashOf(name); ok {
			return h, ref, nil
		}
		return "", "", errors.Newf("ref %q not found", ref)
	}

	if h, ok := hashOf(plumbing.NewBranchReferenceName(ref)); ok {
		return h, "refs/heads/" + ref, nil
	}
	tag := plumbing.NewTagReferenceName(ref)
	if h, ok := hashOf(tag + "^{}"); ok {
		return h, tag.String(), nil
	}
	if h, ok := hashOf(tag); ok {
		return h, tag.String(), nil
	}

	if isHex(ref) {
		lower := strings.ToLower(ref)
		if len(lower) >= 7 {
			var found string
			for _, r := range refs {
				if r.Type() != plumbing.HashReference {
					continue
				}
				h := r.Hash().String()
				if !strings.HasPrefix(h, lower) {
					continue
				}
				if found != "" && found != h {
					return "", "", errors.Newf("abbreviated commit %q is ambiguous", ref)
				}
				found = h
			}
			if found != "" {
				return found, "commit " + found, nil
			}
			// a remote only advertises tips, so a full hash is pinned as given
			if len(lower) == 40 {
				return lower, "commit " + lower + " (not advertised, unverified)", nil
			}
			return "", "", errors.WithHint(
				errors.Newf("commit %q is not an advertised tip", ref),
				"use the full 40-character hash for commits that are not a branch or tag head")
		}
	}
	return "", "", errors.Newf("no branch, tag or commit named %q", ref)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
