package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/subman/errors"
	"github.com/teranos/subman/logger"
)

// indexRecord is one line of a sparse index file. Fields we do not use
// (deps, cksum, features) are ignored.
type indexRecord struct {
	Name   string `json:"name"`
	Vers   string `json:"vers"`
	Yanked bool   `json:"yanked"`
}

// IndexPath returns the sparse index file path of crate:
// "a" -> "1/a", "ab" -> "2/ab", "abc" -> "3/a/abc", "serde" -> "se/rd/serde".
func IndexPath(crate string) string {
	name := strings.ToLower(crate)
	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + name[:1] + "/" + name
	default:
		return name[:2] + "/" + name[2:4] + "/" + name
	}
}

// indexBase turns a configured index ("sparse+https://index.crates.io/")
// into the HTTP base URL ending in a slash
func indexBase(index string) (string, error) {
	base := strings.TrimPrefix(strings.TrimSpace(index), "sparse+")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("registry index %q is not a sparse index", index),
			"git-protocol indexes are not supported; configure the registry's sparse+https:// URL")
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base, nil
}

// fetchIndex downloads the index records of d's crate. One attempt, no retry.
func (r *Resolver) fetchIndex(ctx context.Context, d Descriptor, index, token string) ([]indexRecord, string, error) {
	base, err := indexBase(index)
	if err != nil {
		return nil, index, err
	}
	url := base + IndexPath(d.crate)

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, url, failure(NetworkFailure, d, url, errors.Wrap(err, "rate limiter"))
	}

	var header http.Header
	if token != "" {
		header = http.Header{"Authorization": {token}}
	}
	resp, err := r.http.Get(ctx, url, header)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) {
			return nil, url, err
		}
		return nil, url, failure(NetworkFailure, d, url, err)
	}
	defer resp.Body.Close()

	r.logger.Debugw("index response",
		logger.FieldPallet, d.crate,
		logger.FieldURL, url,
		logger.FieldStatus, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, url, failuref(NotFound, d, url, "crate %q is not in the index", d.crate)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		err := failuref(AuthFailure, d, url, "index returned %d", resp.StatusCode)
		if token == "" {
			return nil, url, errors.WithHint(err, "this registry needs a token; add it to ~/.cargo/credentials.toml")
		}
		return nil, url, err
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, url, failuref(NetworkFailure, d, url, "index returned %d", resp.StatusCode)
	default:
		return nil, url, errors.Newf("unexpected status %d from %s", resp.StatusCode, url)
	}

	records, err := decodeIndex(resp.Body)
	if err != nil {
		// a truncated body is a transport problem, not a bad crate
		return nil, url, failure(NetworkFailure, d, url, err)
	}
	return records, url, nil
}

func decodeIndex(body io.Reader) ([]indexRecord, error) {
	var records []indexRecord
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec indexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, errors.Wrap(err, "malformed index record")
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read index")
	}
	return records, nil
}

// selectVersion picks the highest non-yanked version allowed by req
func selectVersion(records []indexRecord, req Requirement) (*semver.Version, indexRecord, bool) {
	var best *semver.Version
	var bestRec indexRecord
	for _, rec := range records {
		if rec.Yanked {
			continue
		}
		v, err := semver.NewVersion(rec.Vers)
		if err != nil || !req.Allows(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRec = v, rec
		}
	}
	return best, bestRec, best != nil
}

// latest returns the highest non-yanked version, for error hints
func latest(records []indexRecord) string {
	v, _, ok := selectVersion(records, Requirement{})
	if !ok {
		return ""
	}
	return v.String()
}

func (r *Resolver) resolveRegistry(ctx context.Context, d Descriptor, index, token string) (ResolvedDependency, error) {
	req, err := ParseRequirement(d.constraint)
	if err != nil {
		return ResolvedDependency{}, err
	}

	var records []indexRecord
	var url string
	err = r.retry(ctx, d, func(ctx context.Context) error {
		var err error
		records, url, err = r.fetchIndex(ctx, d, index, token)
		return err
	})
	if err != nil {
		return ResolvedDependency{}, err
	}
	if len(records) == 0 {
		return ResolvedDependency{}, failuref(NotFound, d, url, "index lists no versions of %q", d.crate)
	}

	v, rec, ok := selectVersion(records, req)
	if !ok {
		err := failuref(NoSatisfyingVersion, d, url, "no release of %s matches %q", d.crate, req.String())
		if l := latest(records); l != "" {
			err = errors.WithHintf(err, "latest published version is %s", l)
		}
		return ResolvedDependency{}, err
	}

	name := rec.Name
	if name == "" {
		name = d.crate
	}
	return ResolvedDependency{
		desc:    d,
		name:    name,
		version: v.String(),
		proof: Proof{
			Source:    url,
			Matched:   name + "@" + rec.Vers,
			CheckedAt: r.now(),
		},
	}, nil
}
