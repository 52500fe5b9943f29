// Package repo normalizes repository references into clone URLs.
package repo

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultOrg is prepended to bare repository names.
	DefaultOrg = "phovea"

	// DefaultHost is used for "org/name" references.
	DefaultHost = "github.com"

	// FallbackCredentialsVar is consulted when no host-specific variable is set.
	FallbackCredentialsVar = "PHOVEA_GITHUB_CREDENTIALS"
)

// urlShape matches git@host:path(.git) and http(s)://[user@]host/path(.git).
var urlShape = regexp.MustCompile(`^(?:git@([^:/\s]+):|https?://(?:[^@/\s]+@)?([^/\s]+)/)([^\s]+?)(?:\.git)?/?$`)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// MalformedRefError is returned for git@/http references that do not have a host and path.
type MalformedRefError struct {
	Ref string
}

func (e *MalformedRefError) Error() string {
	return fmt.Sprintf("malformed repository reference %q", e.Ref)
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// Resolver turns references into canonical clone URLs.
type Resolver struct {
	// UseSSH selects git@host:path URLs instead of https
	UseSSH bool

	// Org is prepended to references without a slash
	Org string

	// Lookup provides credentials; nil disables injection
	Lookup LookupFunc
}

// Resolve returns the clone URL for ref.
func (r Resolver) Resolve(ref string) (string, error) {
	host, path, err := r.split(ref)
	if err != nil {
		return "", err
	}
	if r.UseSSH {
		return fmt.Sprintf("git@%s:%s.git", host, path), nil
	}
	url := fmt.Sprintf("https://%s/%s.git", host, path)
	if creds := r.credentials(host); creds != "" {
		url = strings.Replace(url, "://", "://"+creds+"@", 1)
	}
	return url, nil
}

func (r Resolver) split(ref string) (host, path string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", &MalformedRefError{Ref: ref}
	}
	if strings.HasPrefix(ref, "git@") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		m := urlShape.FindStringSubmatch(ref)
		if m == nil {
			return "", "", &MalformedRefError{Ref: ref}
		}
		host = m[1]
		if host == "" {
			host = m[2]
		}
		return host, m[3], nil
	}
	if !strings.Contains(ref, "/") {
		org := r.Org
		if org == "" {
			org = DefaultOrg
		}
		ref = org + "/" + ref
	}
	return DefaultHost, strings.TrimSuffix(ref, ".git"), nil
}

func (r Resolver) credentials(host string) string {
	if r.Lookup == nil {
		return ""
	}
	if v, ok := r.Lookup(CredentialsVar(host)); ok && v != "" {
		return v
	}
	if v, ok := r.Lookup(FallbackCredentialsVar); ok && v != "" {
		return v
	}
	return ""
}

// CredentialsVar returns the environment variable holding credentials for host,
// e.g. github.com -> GITHUB_COM_CREDENTIALS.
func CredentialsVar(host string) string {
	return strings.ToUpper(nonAlnum.ReplaceAllString(host, "_")) + "_CREDENTIALS"
}

// Name derives the local directory name of ref.
func Name(ref string) string {
	ref = strings.TrimSuffix(strings.TrimSpace(ref), "/")
	ref = strings.TrimSuffix(ref, ".git")
	if i := strings.LastIndexAny(ref, "/:"); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
