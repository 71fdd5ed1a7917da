// Package xrhid handles XRH sample identifiers of the form PPPPNNNNC[-SSSS]:
// a four letter prefix, the sample number, one Damm check digit and an
// optional alphanumeric suffix naming a section of the sample.
package xrhid

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/muvis-xrh/xrhms-core/internal/errors"
)

// PrefixLength is the number of letters before the sample number.
const PrefixLength = 4

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.NewStd("invalid XRH ID")

// damm is the totally anti-symmetric quasigroup of order 10.
var damm = [10][10]int{
	{0, 3, 1, 7, 5, 9, 8, 6, 4, 2},
	{7, 0, 9, 2, 1, 5, 4, 8, 6, 3},
	{4, 2, 0, 6, 8, 7, 1, 3, 5, 9},
	{1, 7, 5, 0, 9, 8, 3, 4, 2, 6},
	{6, 1, 2, 3, 0, 4, 5, 9, 7, 8},
	{3, 6, 7, 4, 2, 0, 9, 5, 8, 1},
	{5, 8, 6, 9, 7, 2, 0, 1, 3, 4},
	{8, 9, 4, 5, 3, 6, 2, 0, 1, 7},
	{9, 4, 3, 8, 6, 1, 7, 2, 0, 5},
	{2, 5, 8, 1, 4, 3, 6, 7, 9, 0},
}

var upper = cases.Upper(language.Und)

// ID is a split identifier. Number includes the check digit.
type ID struct {
	Prefix string
	Number string
	Suffix string // empty when absent
}

// String renders the identifier.
func (id ID) String() string {
	if id.Suffix == "" {
		return id.Prefix + id.Number
	}
	return id.Prefix + id.Number + "-" + id.Suffix
}

func invalid(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)).
		Component("xrhid").
		Category(errors.CategoryValidation).
		Build()
}

// Calculate returns the Damm check digit of a decimal string. Appending the
// result to number makes Calculate return 0.
func Calculate(number string) (int, error) {
	if !isDigits(number) {
		return 0, invalid("sample number (%s) must be a number", number)
	}
	digit := 0
	for _, c := range number {
		digit = damm[digit][c-'0']
	}
	return digit, nil
}

// Split breaks id into its parts. Prefix and suffix are upper cased; the
// check digit is not verified.
func Split(id string) (ID, error) {
	body, suffix, hasSuffix := strings.Cut(id, "-")

	if len(body) < PrefixLength {
		return ID{}, invalid("%q is too short", id)
	}
	prefix := body[:PrefixLength]
	if !isLetters(prefix) {
		return ID{}, invalid("prefix (%s) must contain alphabetical characters only", prefix)
	}
	number := body[PrefixLength:]
	if !isDigits(number) {
		return ID{}, invalid("sample number (%s) must be a number", number)
	}

	out := ID{Prefix: upper.String(prefix), Number: number}
	if hasSuffix {
		if !isAlnum(suffix) {
			return ID{}, invalid("suffix (%s) must be alphanumeric", suffix)
		}
		out.Suffix = upper.String(suffix)
	}
	return out, nil
}

// CheckDigitOK reports whether the numeric part of id carries a valid check
// digit. id may be a full identifier or just its digits.
func CheckDigitOK(id string) bool {
	number := id
	if !isDigits(id) {
		parts, err := Split(id)
		if err != nil {
			return false
		}
		number = parts.Number
	}
	digit, err := Calculate(number)
	return err == nil && digit == 0
}

// Validate checks structure and check digit.
func Validate(id string) error {
	parts, err := Split(id)
	if err != nil {
		return err
	}
	if digit, _ := Calculate(parts.Number); digit != 0 {
		return invalid("invalid ID number %s", id)
	}
	return nil
}

// Generate renders prefix, number (without check digit) and an optional
// suffix. The number is zero padded to four digits.
func Generate(prefix string, number int, suffix string) (string, error) {
	if len(prefix) != PrefixLength || !isLetters(prefix) {
		return "", invalid("prefix (%s) must be %d letters", prefix, PrefixLength)
	}
	if number < 0 {
		return "", invalid("sample number (%d) must not be negative", number)
	}
	check, err := Calculate(strconv.Itoa(number))
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("%s%04d%d", upper.String(prefix), number, check)
	if suffix != "" {
		if !isAlnum(suffix) {
			return "", invalid("suffix (%s) must be alphanumeric", suffix)
		}
		id += "-" + upper.String(suffix)
	}
	return id, nil
}

// Numeric returns the sample number, with or without the trailing check digit.
func Numeric(id string, withCheck bool) (int, error) {
	parts, err := Split(id)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(parts.Number)
	if err != nil {
		return 0, invalid("sample number (%s) out of range", parts.Number)
	}
	if withCheck {
		return n, nil
	}
	return n / 10, nil
}

// Prefix returns the upper cased prefix.
func Prefix(id string) (string, error) {
	parts, err := Split(id)
	if err != nil {
		return "", err
	}
	return parts.Prefix, nil
}

// Suffix returns the upper cased suffix and whether one is present.
func Suffix(id string) (string, bool, error) {
	parts, err := Split(id)
	if err != nil {
		return "", false, err
	}
	return parts.Suffix, parts.Suffix != "", nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isDigits(string(c)) && !isLetters(string(c)) {
			return false
		}
	}
	return true
}
