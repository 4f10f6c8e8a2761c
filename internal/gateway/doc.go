// Package gateway implements the HTTP client for the external messaging
// gateway. The wire contract, per account:
//
//	POST {endpoint}/message/sendText/{instance}   {number, text}
//	POST {endpoint}/message/sendMedia/{instance}  {number, mediatype, media, caption?, fileName?}
//
// with an "apikey" header. A response counts as success only when it carries
// a recognizable provider message id (key.id or messageId).
package gateway
