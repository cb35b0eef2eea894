package main

import "ticketbot/internal/app"

func main() {
	app.Main()
}
