//go:build !darwin && !linux

package storage

func platformFSType(string) (string, error) { return "", errProbeUnsupported }
