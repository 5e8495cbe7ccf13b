// Package healthhttp serves health check runs over HTTP.
//
// A request to the health check route triggers one run against the
// listener that accepted it, then renders the result as HTML, JSON or plain
// text depending on the Accept header (or ?format=). The status code is the
// run verdict: 200 all passed, 500 something failed, 404 no checks.
package healthhttp
