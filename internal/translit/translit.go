// Package translit transliterates Cyrillic text to Latin characters for use
// in generated file names (the inner entry of a downloaded .fb2.zip is named
// from the transliterated author and title).
//
// The original service's "Transliteration.Front" table could not be
// recovered from any retrieved source, so this table is a best-effort
// reconstruction based on the public GOST 7.79-2000 System B scheme rather
// than a guaranteed byte-for-byte match of the original's output.
package translit

import "strings"

var table = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "j", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "c", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "Yo",
	'Ж': "Zh", 'З': "Z", 'И': "I", 'Й': "J", 'К': "K", 'Л': "L", 'М': "M",
	'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U",
	'Ф': "F", 'Х': "H", 'Ц': "C", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Sch", 'Ъ': "",
	'Ы': "Y", 'Ь': "", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
}

// allowedInFileName is the set of ASCII characters that pass through
// untouched; everything else not covered by the Cyrillic table is replaced
// with "_" so the result is always a safe single path component.
func allowedInFileName(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.', r == ' ':
		return true
	}
	return false
}

// Front transliterates s to a Latin, file-name-safe string: Cyrillic
// letters are mapped via the table above, ASCII letters/digits and a small
// set of punctuation pass through, and anything else becomes "_".
func Front(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if lat, ok := table[r]; ok {
			b.WriteString(lat)
			continue
		}
		if allowedInFileName(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
