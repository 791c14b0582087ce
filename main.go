/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package main

import "github.com/josephgoksu/PlanWing/cmd"

func main() {
	cmd.Execute()
}
