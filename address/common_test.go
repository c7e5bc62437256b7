/*
 *  Copyright (c) 2024-2025 Mikhail Knyazhev <markus621@yandex.ru>. All rights reserved.
 *  Use of this source code is governed by a BSD 3-Clause license that can be found in the LICENSE file.
 */

package address_test

import (
	"fmt"
	"regexp"
	"testing"

	"go.osspkg.com/casecheck"

	"go.osspkg.com/ringserver/address"
	"go.osspkg.com/ringserver/socket"
)

func TestUnit_Resolve(t *testing.T) {
	tests := []struct {
		addr   string
		want   string
		domain int
		fail   bool
	}{
		{addr: "", want: "0.0.0.0:8080", domain: socket.DomainIPv4},
		{addr: ":123", want: "0.0.0.0:123", domain: socket.DomainIPv4},
		{addr: "1.1.1.1", want: "1.1.1.1:8080", domain: socket.DomainIPv4},
		{addr: "1.1.1.1:", want: "1.1.1.1:8080", domain: socket.DomainIPv4},
		{addr: "1.1.1.1:123", want: "1.1.1.1:123", domain: socket.DomainIPv4},
		{addr: "::", want: "[::]:8080", domain: socket.DomainIPv6},
		{addr: "[::1]:123", want: "[::1]:123", domain: socket.DomainIPv6},
		{addr: "[::]:", want: "[::]:8080", domain: socket.DomainIPv6},
		{addr: "1.1.1.1:port", fail: true},
		{addr: "1.1.1.1:70000", fail: true},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("[Case%d]=>'%s'", i, tt.addr), func(t *testing.T) {
			got, err := address.Resolve(tt.addr)
			if tt.fail {
				casecheck.Error(t, err)
				return
			}
			casecheck.NoError(t, err)
			casecheck.Equal(t, tt.want, got.String())
			casecheck.Equal(t, tt.domain, got.Domain)
		})
	}
}

func TestUnit_RandomPort(t *testing.T) {
	got, err := address.RandomPort("127.0.0.1")
	casecheck.NoError(t, err)

	ok, err := regexp.MatchString(`^127\.0\.0\.1:[0-9]+$`, got)
	casecheck.NoError(t, err)
	casecheck.True(t, ok, got)
}
