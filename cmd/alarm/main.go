// Binary alarm provisions image files and SD cards with Arch Linux ARM for
// the Raspberry Pi: partitioning, formatting, mounting, installing the
// root file system and rewriting fstab.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alarmpi/tools/alarm"
)

func main() {
	ctx, canc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := alarm.Context{}.Execute(ctx)
	canc()
	if err != nil {
		log.Fatal(err)
	}
}
