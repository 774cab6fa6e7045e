package router

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"autopost/internal/importer"
)

var ridSeq atomic.Uint64

// newReqID is short and unique enough to correlate log lines of one command.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" +
		strconv.FormatUint(ridSeq.Add(1), 36) +
		strconv.FormatUint(rand.Uint64N(36*36), 36)
}

// splitCommand returns the command word of "/cmd@bot rest" and the
// untouched remainder.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word, rest, _ = strings.Cut(text[1:], " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	return word, strings.TrimSpace(rest), word != ""
}

// tokenize splits on whitespace and honours single or double quotes and
// backslash escapes: a "b c" --k=v -> [a, b c, --k=v].
func tokenize(s string) []string {
	var (
		out  []string
		buf  strings.Builder
		have bool
		q    rune
		esc  bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case q != 0:
			if ch == q {
				q = 0
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			q, have = ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
			have = true
		}
	}
	flush()
	return out
}

// parseArgs separates positionals from --key=value / --key value flags.
// A flag without a value is stored as "true".
func parseArgs(args []string) (pos []string, flags map[string]string) {
	flags = map[string]string{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") || len(a) == 2 {
			pos = append(pos, a)
			continue
		}
		key := a[2:]
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			flags[key] = args[i+1]
			i++
			continue
		}
		flags[key] = "true"
	}
	return pos, flags
}

var mediaFlag = regexp.MustCompile(`(?:^|\s)--media(?:=|\s+)((?:"[^"]*"|'[^']*'|[^\s"'])+)`)

// splitPostText removes every --media flag from a post body and returns
// the remaining text with the media paths. Paths are comma separated and
// may be quoted individually.
func splitPostText(s string) (text string, media []string) {
	for _, m := range mediaFlag.FindAllStringSubmatch(s, -1) {
		for _, p := range strings.Split(m[1], ",") {
			if p = strings.Trim(strings.TrimSpace(p), `"'`); p != "" {
				media = append(media, p)
			}
		}
	}
	text = strings.TrimSpace(mediaFlag.ReplaceAllString(s, ""))
	return text, media
}

var errWhen = errors.New("expected RFC3339 time, YYYY-MM-DD HH:MM or +duration (e.g. +90m)")

// parseWhen accepts "+1h30m" relative to now or an absolute time.
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if rel, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rel)
		if err != nil || d < 0 {
			return time.Time{}, fmt.Errorf("%w: %q", errWhen, s)
		}
		return now.Add(d), nil
	}
	t, err := importer.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errWhen, s)
	}
	return t, nil
}
