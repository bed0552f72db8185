package main

import "gopkg.in/src-d/go-git.v4/plumbing"

func hashOf(s string) plumbing.Hash {
	return plumbing.NewHash(s)
}
