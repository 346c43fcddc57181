package multigram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadSizeConstraints reports an unparseable or empty size-constraint
// specification.
var ErrBadSizeConstraints = errors.New("invalid size constraints")

// DefaultTemplates matches the classic singular/insertion/deletion setup.
func DefaultTemplates() []Template {
	return []Template{{1, 1}, {1, 0}, {0, 1}}
}

// TemplatesFromRange enumerates all (l, r) with minLeft ≤ l ≤ maxLeft and
// minRight ≤ r ≤ maxRight, excluding (0, 0).
func TemplatesFromRange(minLeft, maxLeft, minRight, maxRight int) ([]Template, error) {
	if minLeft < 0 || minLeft > maxLeft || minRight < 0 || minRight > maxRight {
		return nil, fmt.Errorf("%w: %d,%d,%d,%d", ErrBadSizeConstraints, minLeft, maxLeft, minRight, maxRight)
	}
	var out []Template
	for l := minLeft; l <= maxLeft; l++ {
		for r := minRight; r <= maxRight; r++ {
			if l > 0 || r > 0 {
				out = append(out, Template{l, r})
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty template set", ErrBadSizeConstraints)
	}
	return out, nil
}

// ParseSizeConstraints parses the CLI forms "l1,l2,r1,r2" (a rectangle)
// and "[l1:r1,l2:r2,...]" (an explicit list).
func ParseSizeConstraints(spec string) ([]Template, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("%w: empty specification", ErrBadSizeConstraints)
	}
	if strings.HasPrefix(spec, "[") {
		if !strings.HasSuffix(spec, "]") {
			return nil, fmt.Errorf("%w: %q", ErrBadSizeConstraints, spec)
		}
		var out []Template
		for _, item := range strings.Split(spec[1:len(spec)-1], ",") {
			lr := strings.Split(strings.TrimSpace(item), ":")
			if len(lr) != 2 {
				return nil, fmt.Errorf("%w: %q", ErrBadSizeConstraints, item)
			}
			l, err := strconv.Atoi(strings.TrimSpace(lr[0]))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadSizeConstraints, item)
			}
			r, err := strconv.Atoi(strings.TrimSpace(lr[1]))
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrBadSizeConstraints, item)
			}
			if l < 0 || r < 0 || (l == 0 && r == 0) {
				return nil, fmt.Errorf("%w: shape %d:%d", ErrBadSizeConstraints, l, r)
			}
			out = append(out, Template{l, r})
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: empty list", ErrBadSizeConstraints)
		}
		return out, nil
	}
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: want l1,l2,r1,r2, got %q", ErrBadSizeConstraints, spec)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadSizeConstraints, p)
		}
		vals[i] = v
	}
	return TemplatesFromRange(vals[0], vals[1], vals[2], vals[3])
}
