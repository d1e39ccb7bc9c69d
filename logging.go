package timetablert

import (
	"log"
	"os"
)

// InitLogging routes engine output to stdout with microsecond stamps,
// fine enough to read the propagation traces in order.
func InitLogging() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("timetable-rt ")
}
