// Package magnet parses and serializes magnet URIs (BEP 9 xt/ut_metadata
// discovery descriptors, plus BEP 12 tiered trackers, BEP 19 web seeds and
// BEP 53 file selection).
package magnet

import (
	"fmt"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"metaget/infohash"
)

const uriPrefix = "magnet:?"

// Descriptor is the normalized, structured form of a magnet URI.
type Descriptor struct {
	InfoHash            infohash.InfoHash
	DisplayName         string
	ExactLength         *int64
	Trackers            []string
	TrackerTiers        [][]string
	WebSeeds            []string
	AcceptableSources   []string
	SelectedFileIndices []int
}

var trackerSchemes = map[string]bool{"http": true, "https": true, "udp": true}
var seedSchemes = map[string]bool{"http": true, "https": true, "ftp": true}

// Parse decodes a magnet URI into a Descriptor. Malformed sub-fields are
// dropped with a logged warning and never fail the whole parse; only a
// missing/malformed xt, a bad URI form, or an internal error returns a
// non-nil error.
func Parse(text string) (*Descriptor, error) {
	if !strings.HasPrefix(text, uriPrefix) {
		return nil, fmt.Errorf("magnet: missing %q prefix", uriPrefix)
	}
	query := text[len(uriPrefix):]

	var (
		xt           string
		dn           string
		dnSet        bool
		xl           *int64
		trFlat       []string
		trTiers      = map[int][]string{}
		wsUnnumbered []string
		wsNumbered   = map[int][]string{}
		asUnnumbered []string
		asNumbered   = map[int][]string{}
		so           []int
	)

	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = decodeComponent(key)
		value = decodeComponent(value)

		switch {
		case key == "xt":
			if xt == "" {
				xt = value
			}
		case key == "dn":
			if !dnSet {
				dn = value
				dnSet = true
			}
		case key == "xl":
			if xl == nil {
				if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
					xl = &n
				} else {
					log.Printf("magnet: dropping malformed xl value %q", value)
				}
			}
		case key == "tr":
			trFlat = append(trFlat, splitCommaScheme(value, trackerSchemes)...)
		case strings.HasPrefix(key, "tr."):
			n, ok := parseTierIndex(key[len("tr."):])
			if !ok {
				log.Printf("magnet: dropping malformed tracker tier key %q", key)
				continue
			}
			trTiers[n] = append(trTiers[n], splitCommaScheme(value, trackerSchemes)...)
		case key == "ws":
			wsUnnumbered = append(wsUnnumbered, filterScheme(value, seedSchemes)...)
		case strings.HasPrefix(key, "ws."):
			n, ok := parseTierIndex(key[len("ws."):])
			if !ok {
				log.Printf("magnet: dropping malformed web seed key %q", key)
				continue
			}
			wsNumbered[n] = append(wsNumbered[n], filterScheme(value, seedSchemes)...)
		case key == "as":
			asUnnumbered = append(asUnnumbered, filterScheme(value, seedSchemes)...)
		case strings.HasPrefix(key, "as."):
			n, ok := parseTierIndex(key[len("as."):])
			if !ok {
				log.Printf("magnet: dropping malformed acceptable source key %q", key)
				continue
			}
			asNumbered[n] = append(asNumbered[n], filterScheme(value, seedSchemes)...)
		case key == "so":
			so = append(so, parseSelectedIndices(value)...)
		case strings.HasPrefix(key, "so."):
			so = append(so, parseSelectedIndices(value)...)
		}
	}

	ih, err := parseXT(xt)
	if err != nil {
		return nil, err
	}

	tiers := buildTiers(trFlat, trTiers)
	flat := flattenTiers(tiers)

	d := &Descriptor{
		InfoHash:            ih,
		DisplayName:         dn,
		ExactLength:         xl,
		Trackers:            flat,
		TrackerTiers:        tiers,
		WebSeeds:            orderBySuffix(wsUnnumbered, wsNumbered),
		AcceptableSources:   orderBySuffix(asUnnumbered, asNumbered),
		SelectedFileIndices: dedupSorted(so),
	}
	return d, nil
}

func parseXT(xt string) (infohash.InfoHash, error) {
	switch {
	case strings.HasPrefix(xt, "urn:btih:"):
		rest := xt[len("urn:btih:"):]
		return infohash.Parse(rest)
	case strings.HasPrefix(xt, "urn:sha1:"):
		rest := xt[len("urn:sha1:"):]
		if len(rest) != 40 {
			return infohash.InfoHash{}, fmt.Errorf("magnet: urn:sha1: requires 40 hex chars, got %d", len(rest))
		}
		return infohash.Parse(rest)
	default:
		return infohash.InfoHash{}, fmt.Errorf("magnet: missing or unrecognized xt parameter %q", xt)
	}
}

func decodeComponent(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func splitCommaScheme(value string, allowed map[string]bool) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if hasAllowedScheme(part, allowed) {
			out = append(out, part)
		}
	}
	return out
}

func filterScheme(value string, allowed map[string]bool) []string {
	if hasAllowedScheme(value, allowed) {
		return []string{value}
	}
	return nil
}

func hasAllowedScheme(uri string, allowed map[string]bool) bool {
	u, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return allowed[strings.ToLower(u.Scheme)]
}

func parseTierIndex(suffix string) (int, bool) {
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func parseSelectedIndices(value string) []int {
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

func dedupSorted(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	sort.Ints(in)
	out := in[:0:0]
	for i, v := range in {
		if i == 0 || v != in[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// buildTiers merges the unnumbered tr= bucket (tier 0) with the numbered
// tr.N= buckets and emits tiers sorted by tier index ascending.
func buildTiers(unnumbered []string, numbered map[int][]string) [][]string {
	merged := map[int][]string{}
	for n, v := range numbered {
		merged[n] = append(merged[n], v...)
	}
	if len(unnumbered) > 0 {
		merged[0] = append(append([]string{}, unnumbered...), merged[0]...)
	}
	if len(merged) == 0 {
		return nil
	}
	keys := make([]int, 0, len(merged))
	for n := range merged {
		keys = append(keys, n)
	}
	sort.Ints(keys)
	tiers := make([][]string, 0, len(keys))
	for _, n := range keys {
		tiers = append(tiers, merged[n])
	}
	return tiers
}

func flattenTiers(tiers [][]string) []string {
	var flat []string
	for _, tier := range tiers {
		flat = append(flat, tier...)
	}
	return flat
}

// orderBySuffix places declaration-order unnumbered entries first, followed
// by numbered entries sorted by their numeric suffix ascending.
func orderBySuffix(unnumbered []string, numbered map[int][]string) []string {
	out := append([]string{}, unnumbered...)
	if len(numbered) == 0 {
		return out
	}
	keys := make([]int, 0, len(numbered))
	for n := range numbered {
		keys = append(keys, n)
	}
	sort.Ints(keys)
	for _, n := range keys {
		out = append(out, numbered[n]...)
	}
	return out
}

// String serializes the Descriptor back into a magnet URI (the inverse of
// Parse). Tiers are collapsed into the flat Trackers list: a descriptor
// built only from Parse's flat fields round-trips modulo tier regrouping.
func (d *Descriptor) String() string {
	var b strings.Builder
	b.WriteString(uriPrefix)
	b.WriteString("xt=urn:btih:")
	b.WriteString(d.InfoHash.String())

	if d.DisplayName != "" {
		b.WriteString("&dn=")
		b.WriteString(url.QueryEscape(d.DisplayName))
	}
	for _, tr := range d.Trackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	if d.ExactLength != nil {
		b.WriteString("&xl=")
		b.WriteString(strconv.FormatInt(*d.ExactLength, 10))
	}
	for _, ws := range d.WebSeeds {
		b.WriteString("&ws=")
		b.WriteString(url.QueryEscape(ws))
	}
	for _, as := range d.AcceptableSources {
		b.WriteString("&as=")
		b.WriteString(url.QueryEscape(as))
	}
	for _, idx := range d.SelectedFileIndices {
		b.WriteString("&so=")
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}
