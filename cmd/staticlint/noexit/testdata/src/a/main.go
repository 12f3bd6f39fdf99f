package main

import (
	"fmt"
	"os"
	exit "os"
)

func main() {
	if len(os.Args) > 3 {
		os.Exit(2) // want "os.Exit called in main.main"
	}
	defer func() {
		exit.Exit(1) // want "os.Exit called in main.main"
	}()
	fmt.Println("ok")
}

func helper() {
	os.Exit(1)
}

type cmd struct{}

func (cmd) main() {
	os.Exit(1)
}
