// Command gamehook builds the shared library that is preloaded into the
// game server:
//
//	go build -buildmode=c-shared -o gamehook.so ./cmd/gamehook
//	LD_PRELOAD=./gamehook.so ./qzeroded.x64 +set net_port 27960
//
// The library starts while the dynamic loader runs, before the server's
// main function, and installs its hooks then. GAMEHOOK_CONFIG names the
// configuration file and GAMEHOOK_DISABLE=1 loads the library inert.
package main

import "C"

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/dshills/gamehook/internal/app"
)

// Version information (set via ldflags during build).
var version = "dev"

const disableEnv = "GAMEHOOK_DISABLE"

var (
	mu          sync.Mutex
	application *app.Application
)

func init() {
	if disabled, _ := strconv.ParseBool(os.Getenv(disableEnv)); disabled {
		return
	}
	a := app.New(app.Options{ConfigPath: os.Getenv(app.ConfigEnv)})
	if err := a.Start(); err != nil {
		// Start has already restored the host's code; a server missing
		// functions it was configured to require must not run.
		fmt.Fprintf(os.Stderr, "gamehook %s: %v\n", version, err)
		os.Exit(1)
	}
	mu.Lock()
	application = a
	mu.Unlock()
}

// GamehookShutdown removes every hook and stops the library. It runs from
// the library destructor and may also be called by the host.
//
//export GamehookShutdown
func GamehookShutdown() {
	mu.Lock()
	a := application
	application = nil
	mu.Unlock()
	if a != nil {
		_ = a.Shutdown()
	}
}

// GamehookCommand queues a console command for the server thread. It
// returns 0 when queued.
//
//export GamehookCommand
func GamehookCommand(text *C.char) C.int {
	mu.Lock()
	a := application
	mu.Unlock()
	if a == nil || text == nil {
		return -1
	}
	if err := a.Host().Command(C.GoString(text)); err != nil {
		return -1
	}
	return 0
}

// GamehookRunning reports whether the library is active.
//
//export GamehookRunning
func GamehookRunning() C.int {
	mu.Lock()
	defer mu.Unlock()
	if application != nil && application.IsRunning() {
		return 1
	}
	return 0
}

func main() {}
