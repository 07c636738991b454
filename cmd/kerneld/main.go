// Command kerneld is the CLI front end for the gokernel core simulator:
// boot an instance and exit, fsck an existing disk image, or run it
// with its scheduler idle loops live until interrupted.
package main

func main() {
	Execute()
}
