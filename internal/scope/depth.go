package scope

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rjboer/GoScope/internal/logging"
)

// MaxDepth is the deepest single-channel memory of the DS1000Z.
const MaxDepth = 24_000_000

// autoDepth is what an AUTO memory depth reads as.
const autoDepth = 6000

var ladder = buildLadder()

// buildLadder covers 12k..24M for one channel, 6k..12M for two and
// 3k..6M for three or four.
func buildLadder() []int {
	seen := map[int]bool{MaxDepth: true}
	out := []int{MaxDepth}
	for _, digit := range []int{3, 6, 12} {
		for p := 1000; p <= 1_000_000; p *= 10 {
			d := digit * p
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Ladder returns the supported memory depths in ascending order.
func Ladder() []int {
	return append([]int(nil), ladder...)
}

// depthCandidates lists the depths tried for a request: the request
// itself, then the ladder from the insertion point of r-1 downwards.
// Entries at or above r are skipped so a fallback never exceeds the
// request.
func depthCandidates(r int) []int {
	i := sort.SearchInts(ladder, r-1)
	if i >= len(ladder) {
		i = len(ladder) - 1
	}
	out := make([]int, 0, i+2)
	out = append(out, r)
	for j := i; j >= 0; j-- {
		if ladder[j] >= r {
			continue
		}
		out = append(out, ladder[j])
	}
	return out
}

// parseDepth accepts integers and float spellings such as "12e6".
func parseDepth(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("%w: invalid depth %q", ErrDepthNegotiation, s)
		}
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 1 || f > 1e15 {
		return 0, fmt.Errorf("%w: invalid depth %q", ErrDepthNegotiation, s)
	}
	return int(f), nil
}

// SetMemoryDepth negotiates the acquisition memory depth and returns the
// depth the instrument reports. requested is "auto" or a sample count.
// When the exact count is rejected the next smaller ladder entries are
// tried, so the result never exceeds the request.
func (s *Scope) SetMemoryDepth(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	st, err := s.Status(ctx)
	if err != nil {
		return "", err
	}
	if st == Stopped {
		return "", fmt.Errorf("%w: cannot set memory depth while stopped", ErrInvalidDeviceState)
	}

	if strings.EqualFold(requested, "auto") {
		if err := s.write(ctx, ":ACQ:MDEP AUTO"); err != nil {
			return "", err
		}
		got, err := s.query(ctx, ":ACQ:MDEP?")
		if err != nil {
			return "", err
		}
		s.log.Info("memory depth set", logging.F("requested", "AUTO"), logging.F("depth", got))
		return got, nil
	}

	r, err := parseDepth(requested)
	if err != nil {
		return "", err
	}
	for _, try := range depthCandidates(r) {
		if err := s.write(ctx, ":ACQ:MDEP "+strconv.Itoa(try)); err != nil {
			return "", err
		}
		got, err := s.query(ctx, ":ACQ:MDEP?")
		if err != nil {
			return "", err
		}
		if strings.EqualFold(got, "AUTO") {
			continue
		}
		if n, err := parseDepth(got); err == nil && n == try {
			if try != r {
				s.log.Warn("memory depth fell back", logging.F("requested", r), logging.F("depth", try))
			} else {
				s.log.Info("memory depth set", logging.F("depth", try))
			}
			return got, nil
		}
	}
	return "", &DepthError{Requested: r}
}

// MemoryDepth reads the current memory depth; AUTO reads as 6000.
func (s *Scope) MemoryDepth(ctx context.Context) (int, error) {
	if err := s.write(ctx, ":ACQ:MDEP?"); err != nil {
		return 0, err
	}
	raw, err := s.t.ReadRaw(ctx)
	if err != nil {
		return 0, fmt.Errorf(":ACQ:MDEP?: %w", err)
	}
	line := firstLine(string(raw))
	if line == "AUTO" {
		return autoDepth, nil
	}
	n, err := parseDepth(line)
	if err != nil {
		return 0, &ReplyError{Text: line, Kind: KindInt}
	}
	return n, nil
}
