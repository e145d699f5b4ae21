package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ VaultService = (*Service)(nil)
	_ Authorizer   = CallerAuthorizer{}
	_ Authorizer   = VaultSigner{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
