package main

import "github.com/encodeous/nybond/cmd/bondctl"

func main() {
	bondctl.Execute()
}
