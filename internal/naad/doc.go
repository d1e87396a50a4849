// Package naad speaks the NAAD streaming protocol: a long-lived TCP socket
// carrying back-to-back CAP XML documents with no length prefix or delimiter
// beyond the closing </alert> tag.
//
// A Framer slices complete documents out of the byte stream. A Manager owns
// one socket per configured stream URL and drives it through the
// Disconnected, Connecting and Connected states, reconnecting after a delay
// until its context is cancelled.
package naad
