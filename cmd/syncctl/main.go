package main

import "github.com/JonMunkholm/fieldsync/cmd/syncctl/cmd"

func main() {
	cmd.Execute()
}
