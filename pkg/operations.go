package pkg

import "strings"

// OperationToMethod normaliza el nombre de operación de la URL al
// identificador snake_case del registro: ConverseStream pasa a
// converse_stream. Los guiones también se normalizan, de modo que
// converse-stream resuelve a la misma operación
func OperationToMethod(operation string) string {
	var b strings.Builder
	b.Grow(len(operation) + 8)

	for i, r := range operation {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == '-' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
