package main

import "github.com/EdvardGK/sprucelab-sub000/cmd"

func main() {
	cmd.Execute()
}
