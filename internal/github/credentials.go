package github

import (
	"errors"
	"strings"
	"sync/atomic"

	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned when a pool is built without any usable token.
var ErrNoCredentials = errors.New("github: no credentials configured")

// tokenType renders the Authorization header as "token <credential>".
const tokenType = "token"

// Pool holds interchangeable API credentials and a shared rotation index.
// The index is only touched through Current and Advance.
type Pool struct {
	tokens []string
	idx    atomic.Uint64
}

// ParseTokens splits a comma-delimited credential list, dropping blanks.
func ParseTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if tok := strings.TrimSpace(part); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// NewPool builds a Pool from the given credentials.
func NewPool(tokens []string) (*Pool, error) {
	cleaned := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			cleaned = append(cleaned, tok)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoCredentials
	}
	return &Pool{tokens: cleaned}, nil
}

// Size reports how many credentials the pool rotates through.
func (p *Pool) Size() int {
	return len(p.tokens)
}

// Index returns the slot of the current credential.
func (p *Pool) Index() int {
	return int(p.idx.Load())
}

// Current returns the credential requests should use right now.
func (p *Pool) Current() string {
	return p.tokens[p.idx.Load()%uint64(len(p.tokens))]
}

// Advance moves to the next credential and reports whether the rotation
// wrapped back to the first one. Concurrent callers each move the index by
// exactly one slot.
func (p *Pool) Advance() bool {
	n := uint64(len(p.tokens))
	for {
		cur := p.idx.Load()
		next := (cur + 1) % n
		if p.idx.CompareAndSwap(cur, next) {
			return next == 0
		}
	}
}

// Token implements oauth2.TokenSource so the transport always authenticates
// with whichever credential is current at send time.
func (p *Pool) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: p.Current(), TokenType: tokenType}, nil
}
