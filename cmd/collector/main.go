// Command collector gathers daily housing figures into a SQL store.
package main

import "github.com/JakeFAU/housedata-crawler/cmd"

func main() {
	cmd.Execute()
}
