package config

// ExitCodeBlockingError should be returned when the gate is completely
// inoperable. For example, the config is broken or the broker can't be
// reached at startup.
const ExitCodeBlockingError = 1

// ExitCodeGeneralError should be returned when the command was able to run
// but there were still errors. For example a result file could not be read.
const ExitCodeGeneralError = 2

// ExitCodeGateFailed should be returned when a quality gate evaluation
// resulted in FAIL.
const ExitCodeGateFailed = 3
