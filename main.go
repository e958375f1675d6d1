package main

import "context"

func main() {
	ctx := withInterrupt(context.Background(), bootstrapLogger())

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		exitOnError(err)
	}
}
