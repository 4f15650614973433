package genre

import "strings"

// soundexCode maps an uppercase ASCII letter to its Soundex digit class.
// Vowels and H/W/Y carry no digit; they act only as separators between
// consonants that would otherwise collapse (per the classic algorithm's
// "H/W rule").
var soundexCode = [26]byte{
	'A': 0, 'B': '1', 'C': '2', 'D': '3', 'E': 0, 'F': '1', 'G': '2', 'H': 0,
	'I': 0, 'J': '2', 'K': '2', 'L': '4', 'M': '5', 'N': '5', 'O': 0, 'P': '1',
	'Q': '2', 'R': '6', 'S': '2', 'T': '3', 'U': 0, 'V': '1', 'W': 0, 'X': '2',
	'Y': 0, 'Z': '2',
}

// Soundex computes the classic American Soundex code for a single word:
// the first letter followed by up to three digits derived from the
// remaining consonants, consecutive duplicates collapsed, padded with
// trailing zeros to a fixed length of four characters. Non-letters are
// skipped. An empty or all-non-letter input yields "".
func Soundex(word string) string {
	letters := make([]byte, 0, len(word))
	for i := 0; i < len(word); i++ {
		c := word[i]
		switch {
		case c >= 'a' && c <= 'z':
			letters = append(letters, c-'a'+'A')
		case c >= 'A' && c <= 'Z':
			letters = append(letters, c)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	var out [4]byte
	out[0] = letters[0]
	n := 1
	lastCode := soundexCode[letters[0]-'A']
	for i := 1; i < len(letters) && n < 4; i++ {
		letter := letters[i]
		// H and W are transparent: they neither emit a digit nor reset the
		// "last code" run, so e.g. Ashcraft's S and C (separated by H)
		// still collapse as if adjacent. Vowels (and Y) do reset the run,
		// so a repeated consonant after a vowel is kept.
		if letter == 'H' || letter == 'W' {
			continue
		}
		code := soundexCode[letter-'A']
		if code != 0 && code != lastCode {
			out[n] = code
			n++
		}
		lastCode = code
	}
	for ; n < 4; n++ {
		out[n] = '0'
	}
	return string(out[:])
}

// SoundexByWords applies Soundex to every whitespace/comma-separated token
// of s and concatenates the results in order, implementing the "Soundex by
// word" matching scheme used to fuzzy-match free-text subjects against the
// genre taxonomy.
func SoundexByWords(s string) string {
	words := splitWords(s)
	if len(words) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range words {
		b.WriteString(Soundex(w))
	}
	return b.String()
}
