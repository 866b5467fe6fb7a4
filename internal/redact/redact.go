// Package redact hides secrets, such as the signer key or RPC credentials,
// from output streams.
package redact

import (
	"bytes"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/opal-lang/evmcl/core/invariant"
)

// Writer replaces registered secrets with placeholders before writing to the
// underlying writer. Secrets are matched within a single Write.
type Writer struct {
	w io.Writer

	mu      sync.Mutex
	secrets []secretEntry // longest first
}

type secretEntry struct {
	value       []byte
	placeholder []byte
}

// New returns a Writer that writes to w.
func New(w io.Writer) *Writer {
	invariant.NotNil(w, "writer")
	return &Writer{w: w}
}

// Register adds value to the secrets replaced by placeholder. Hex values are
// matched with and without 0x in either case. Empty values are ignored.
func (r *Writer) Register(value, placeholder string) {
	invariant.Precondition(placeholder != "", "placeholder cannot be empty")
	if value == "" {
		return
	}

	variants := []string{value, url.QueryEscape(value)}
	if bare, ok := strings.CutPrefix(strings.ToLower(value), "0x"); ok || isHex(bare) {
		variants = append(variants, bare, strings.ToUpper(bare), "0x"+bare)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range variants {
		if v != "" {
			r.secrets = append(r.secrets, secretEntry{value: []byte(v), placeholder: []byte(placeholder)})
		}
	}
	sort.SliceStable(r.secrets, func(i, j int) bool {
		return len(r.secrets[i].value) > len(r.secrets[j].value)
	})
}

// RegisterURL registers the parts of an endpoint URL that commonly carry
// credentials: the password, the path (API keys) and the query.
func (r *Writer) RegisterURL(raw, placeholder string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return
	}
	if pass, ok := u.User.Password(); ok {
		r.Register(pass, placeholder)
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		r.Register(p, placeholder)
	}
	if u.RawQuery != "" {
		r.Register(u.RawQuery, placeholder)
	}
}

// Unwrap returns the underlying writer.
func (r *Writer) Unwrap() io.Writer { return r.w }

// Write implements io.Writer. It reports len(p) on success even when
// replacements changed the length.
func (r *Writer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := p
	for _, s := range r.secrets {
		if bytes.Contains(out, s.value) {
			out = bytes.ReplaceAll(out, s.value, s.placeholder)
		}
	}
	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

func isHex(s string) bool {
	if len(s) < 16 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
