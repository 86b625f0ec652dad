//go:build !linux && !darwin && !freebsd
// +build !linux,!darwin,!freebsd

package proc

import "io/ioutil"

func mapImage(path string) ([]byte, func(), error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}
