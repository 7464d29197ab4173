package logx

import (
	"fmt"
	"log"
	"strings"
)

// Info пишет строку вида: lvl=info req_id=... op=... msg="..." k=v ...
func Info(l *log.Logger, reqID, op, msg string, kv ...any) {
	l.Print(line("info", reqID, op, msg, nil, kv))
}

// Error — то же, плюс err="..."
func Error(l *log.Logger, reqID, op, msg string, err error, kv ...any) {
	l.Print(line("error", reqID, op, msg, err, kv))
}

func line(lvl, reqID, op, msg string, err error, kv []any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "lvl=%s", lvl)
	if reqID != "" {
		fmt.Fprintf(&sb, " req_id=%s", reqID)
	}
	fmt.Fprintf(&sb, " op=%s msg=%q", op, msg)
	if err != nil {
		fmt.Fprintf(&sb, " err=%q", err.Error())
	}
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fmt.Fprintf(&sb, " %s=(missing)", key)
			break
		}
		fmt.Fprintf(&sb, " %s=%s", key, value(kv[i+1]))
	}
	return sb.String()
}

func value(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
