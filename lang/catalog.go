package lang

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys of the run-error catalog.
const (
	msgRunError     = "run error in %s at %s (ip %d, line %d): %s"
	msgInvalidAgent = "invalid agent %s: %s"
	msgFault        = "%s: %s"
)

var faultNames = map[language.Tag]map[FaultKind]string{
	language.German: {
		FaultRun:     "Skriptfehler",
		FaultType:    "Typfehler",
		FaultValue:   "ungültiger Wert",
		FaultAssert:  "Zusicherung fehlgeschlagen",
		FaultBlock:   "Blockieren nicht erlaubt",
		FaultStack:   "Stapelunterlauf",
		FaultOperand: "fehlerhafter Operand",
		FaultFrozen:  "Skript eingefroren",
	},
}

var runErrorCatalog = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, key, msg string) {
		if err := b.SetString(tag, key, msg); err != nil {
			panic(err)
		}
	}
	set(language.English, msgRunError, "run error in %s at %s (ip %d, line %d): %s")
	set(language.English, msgInvalidAgent, "invalid agent %s: %s")
	set(language.English, msgFault, "%s: %s")

	set(language.German, msgRunError, "Laufzeitfehler in %s bei %s (IP %d, Zeile %d): %s")
	set(language.German, msgInvalidAgent, "ungültiger Agent %s: %s")
	set(language.German, msgFault, "%s: %s")
	return b
}

// FormatRunError renders an error returned by UpdateVM in the given
// language, for reporting to the owning agent or the user.
func FormatRunError(tag language.Tag, err error) string {
	p := message.NewPrinter(tag, message.Catalog(runErrorCatalog))

	var bad *InvalidAgentHandleError
	if errors.As(err, &bad) {
		return p.Sprintf(msgInvalidAgent, bad.Handle.String(), bad.Reason)
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return p.Sprintf(msgRunError, runErr.Script, runErr.Command, runErr.CommandIP, runErr.Line, formatCause(p, tag, runErr.Cause))
	}
	return formatCause(p, tag, err)
}

func formatCause(p *message.Printer, tag language.Tag, err error) string {
	var f *ScriptFault
	if !errors.As(err, &f) {
		return err.Error()
	}
	name := f.Kind.String()
	base, _ := tag.Base()
	for t, names := range faultNames {
		if b, _ := t.Base(); b == base {
			if n, ok := names[f.Kind]; ok {
				name = n
			}
		}
	}
	return p.Sprintf(msgFault, name, f.Message)
}
