package main

import "github.com/ValentinKolb/dEdit/cmd"

func main() {
	cmd.Execute()
}
