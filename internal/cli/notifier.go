package cli

// consoleNotifier prints resolution and installation progress to the
// terminal using the shared output styles.
type consoleNotifier struct{}

func (consoleNotifier) Message(msg string, indent int) {
	printIndented(msg, indent)
}

func (consoleNotifier) Warning(msg string) {
	printWarning("%s", msg)
}

func (consoleNotifier) Error(msg string) {
	printError("%s", msg)
}
