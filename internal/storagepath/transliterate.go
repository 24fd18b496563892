package storagepath

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// cyrillicToLatin follows the Bulgarian streamlined system, with a few
// Russian/Ukrainian letters that appear in cadastral names.
var cyrillicToLatin = map[rune]string{
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ж': "Zh",
	'З': "Z", 'И': "I", 'Й': "Y", 'К': "K", 'Л': "L", 'М': "M", 'Н': "N",
	'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U", 'Ф': "F",
	'Х': "H", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Sht", 'Ъ': "A",
	'Ы': "Y", 'Ь': "Y", 'Ю': "Yu", 'Я': "Ya", 'Ё': "Yo", 'Ѝ': "I", 'І': "I",

	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ж': "zh",
	'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n",
	'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u", 'ф': "f",
	'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sht", 'ъ': "a",
	'ы': "y", 'ь': "y", 'ю': "yu", 'я': "ya", 'ё': "yo", 'ѝ': "i", 'і': "i",
}

// Transliterate maps Cyrillic letters to Latin and leaves everything else
// untouched. Input is NFC-normalized first so decomposed letters (И followed
// by a combining breve) map like their precomposed form.
func Transliterate(value string) string {
	value = norm.NFC.String(value)
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if latin, ok := cyrillicToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeSegment turns one path component into a filesystem-safe name:
// transliterated, whitespace runs replaced by "_", characters outside
// [0-9A-Za-z._()-] replaced by "_", repeated "_" collapsed, and leading or
// trailing "_" trimmed. The result may be empty.
func SanitizeSegment(segment string) string {
	transliterated := Transliterate(strings.TrimSpace(segment))

	var b strings.Builder
	b.Grow(len(transliterated))
	lastUnderscore := false
	for _, r := range transliterated {
		if !isSafe(r) || unicode.IsSpace(r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}
	return strings.Trim(b.String(), "_")
}

func isSafe(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		return true
	case r == '.', r == '_', r == '(', r == ')', r == '-':
		return true
	}
	return false
}
