package scoring

import "strings"

func isVowel(r byte) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}

// CountSyllables estimates syllables as vowel groups, minus a trailing silent e.
func CountSyllables(word string) int {
	w := strings.ToLower(word)
	count := 0
	prevVowel := false
	letters := 0
	for i := 0; i < len(w); i++ {
		c := w[i]
		if c < 'a' || c > 'z' {
			prevVowel = false
			continue
		}
		letters++
		v := isVowel(c)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if count > 1 && strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && !strings.HasSuffix(w, "ee") {
		count--
	}
	if count == 0 && letters > 0 {
		return 1
	}
	return count
}

// rhymeKey is the word from its last vowel group onwards, ignoring a silent e.
func rhymeKey(word string) string {
	w := strings.ToLower(word)
	if len(w) > 3 && w[len(w)-1] == 'e' && !isVowel(w[len(w)-2]) {
		w = w[:len(w)-1]
	}
	i := len(w) - 1
	for i >= 0 && !isVowel(w[i]) {
		i--
	}
	for i > 0 && isVowel(w[i-1]) {
		i--
	}
	if i < 0 {
		return ""
	}
	return w[i:]
}

// Rhymes reports whether two words rhyme by suffix or vowel ending.
// Repeating the same word is not a rhyme.
func Rhymes(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" || a == b {
		return false
	}
	if commonSuffix(a, b) >= 3 {
		return true
	}
	ka, kb := rhymeKey(a), rhymeKey(b)
	if len(ka) >= 2 && ka == kb {
		return true
	}
	la, lb := a[len(a)-1], b[len(b)-1]
	return isVowel(la) && la == lb
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
