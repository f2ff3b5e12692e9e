/*
Package client is the interactive shell for a Burrow server.

It dials the server's TCP port, reads statements line by line with a
":> " prompt, sends each as a request frame and prints the response.
Error frames go to standard error and leave the session running;
"exit", "quit" or end of input close it.
*/
package client
