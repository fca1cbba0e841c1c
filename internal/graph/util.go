package graph

import "strconv"

// placeholder builds a "col = $n" fragment for dynamically-sized partial
// UPDATE statements.
func placeholder(col string, n int) string {
	return col + " = $" + strconv.Itoa(n)
}

func itoa(n int) string { return strconv.Itoa(n) }
