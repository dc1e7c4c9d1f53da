package deploy

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// PushURL rewrites a remote URL to an HTTPS URL carrying the credentials.
// Both URL style remotes and scp-like remotes (git@host:org/repo.git) are accepted.
// The result is always https with one exception: plain http remotes keep their
// scheme so that local remotes without TLS work. The token then travels
// unencrypted, so http remotes are only suitable for local servers.
func PushURL(remoteURL string, creds Credentials) string {
	scheme, host, path := splitRemote(remoteURL)
	if scheme != "http" {
		scheme = "https"
	}
	userinfo := url.UserPassword(creds.Username, creds.PersonalAccessToken).String()
	return scheme + "://" + userinfo + "@" + host + path
}

func splitRemote(remoteURL string) (scheme, host, path string) {
	remoteURL = strings.TrimSpace(remoteURL)
	if strings.Contains(remoteURL, "://") {
		if u, err := url.Parse(remoteURL); err == nil {
			return strings.ToLower(u.Scheme), u.Host, u.EscapedPath()
		}
	}
	// scp-like syntax: [user@]host:path
	rest := remoteURL
	if i := strings.Index(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	host, path, found := strings.Cut(rest, ":")
	if !found {
		return "", "", ""
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "", host, path
}

// injectCredentials sets the committer identity and points the remote at
// an authenticated push URL.
func injectCredentials(ctx context.Context, wc WorkingCopy, remote string, creds Credentials) error {
	if err := wc.Config(ctx, "user.name", creds.CommitterName); err != nil {
		return fmt.Errorf("set user.name: %w", err)
	}
	if err := wc.Config(ctx, "user.email", creds.CommitterEmail); err != nil {
		return fmt.Errorf("set user.email: %w", err)
	}
	r, err := wc.GetRemote(ctx, remote)
	if err != nil {
		return fmt.Errorf("get remote %s: %w", remote, err)
	}
	if err := wc.SetRemoteURL(ctx, remote, PushURL(r.Push, creds)); err != nil {
		return fmt.Errorf("set url of remote %s: %w", remote, err)
	}
	return nil
}
