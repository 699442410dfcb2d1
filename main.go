package main

import "EmotionDetServer/cmd"

func main() {
	cmd.Execute()
}
