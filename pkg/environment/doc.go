// Package environment names the deployment environments paycore runs in and
// normalizes the short aliases operators tend to put into APP_ENV.
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	if env.IsProduction() {
//		// production-only wiring
//	}
package environment
